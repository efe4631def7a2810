package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/service/cache"
	"PatternMemory/internal/services/memory"
	"PatternMemory/pkg/config"
)

func signalAt(dir models.Direction, at time.Time) *models.Signal {
	return &models.Signal{Symbol: "EURUSD", Timeframe: models.TF4h, Direction: dir, EntryPrice: 1.1, CreatedAt: at}
}

func TestDedupeKey(t *testing.T) {
	w := 4 * time.Hour
	a := DedupeKey(signalAt(models.Bullish, end), w)
	assert.Equal(t, a, DedupeKey(signalAt(models.Bullish, end.Add(time.Minute)), w))
	assert.NotEqual(t, a, DedupeKey(signalAt(models.Bearish, end), w))
	assert.NotEqual(t, a, DedupeKey(signalAt(models.Bullish, end.Add(w)), w))
}

func TestEmitterOncePerWindow(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(cache.NewTTLCache(), 4*time.Hour, nil, nil, sink)
	ctx := context.Background()

	ok, err := e.Emit(ctx, signalAt(models.Bullish, end))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Emit(ctx, signalAt(models.Bullish, end.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.Emit(ctx, signalAt(models.Bearish, end))
	require.NoError(t, err)
	assert.True(t, ok, "other direction has its own window")

	ok, err = e.Emit(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, sink.count())
}

type failingClaims struct{}

func (failingClaims) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestEmitterFailedClaimSuppresses(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(failingClaims{}, time.Hour, nil, nil, sink)

	ok, err := e.Emit(context.Background(), signalAt(models.Bullish, end))
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Zero(t, sink.count())
}

func TestEmitterReportsSinkErrors(t *testing.T) {
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("webhook 502")}
	e := NewEmitter(cache.NewTTLCache(), time.Hour, nil, nil, bad, good)

	ok, err := e.Emit(context.Background(), signalAt(models.Bullish, end))
	assert.True(t, ok, "claimed and delivered to the healthy sink")
	assert.ErrorContains(t, err, "webhook 502")
	assert.Equal(t, 1, good.count())
}

func TestKafkaCandlesHandler(t *testing.T) {
	h := newHarness(t, confluent(), nil)
	handler := NewKafkaCandlesHandler("patmem.candles", h.analyze, nil, nil)

	batch := CandleBatch{
		Symbol: "EURUSD",
		Series: map[string][]models.Candle{
			"4h": rising("EURUSD", models.TF4h, 30).Candles,
			"1h": rising("EURUSD", models.TF1h, 30).Candles,
		},
	}
	b, err := json.Marshal(batch)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), b))
	assert.Equal(t, 1, h.sink.count())
	assert.Equal(t, "patmem.candles", handler.Topic())

	assert.NoError(t, handler.Handle(context.Background(), []byte("{")), "poison messages are dropped")

	batch.Series["2h"] = nil
	b, _ = json.Marshal(batch)
	assert.NoError(t, handler.Handle(context.Background(), b))
}

func TestCandleBatchParamsOrderedByTimeframe(t *testing.T) {
	p, err := CandleBatch{Symbol: "X", Series: map[string][]models.Candle{"4h": nil, "15m": nil, "1h": nil}}.Params()
	require.NoError(t, err)
	require.Len(t, p.Series, 3)
	assert.Equal(t, models.TF15m, p.Series[0].Timeframe)
	assert.Equal(t, models.TF1h, p.Series[1].Timeframe)
	assert.Equal(t, models.TF4h, p.Series[2].Timeframe)
}

func TestKafkaOutcomesHandler(t *testing.T) {
	cfg := config.Default()
	store := memory.NewStore(cfg.Memory, cfg.Instruments)
	handler := NewKafkaOutcomesHandler("patmem.outcomes", store, nil, nil)
	ctx := context.Background()

	e := models.NewPatternEvent(models.GapZone, models.Bullish, "EURUSD", models.TF1h, 1.1, end)
	id, err := store.Record(ctx, e)
	require.NoError(t, err)

	msg, _ := json.Marshal(OutcomeReport{ID: id, Outcome: "SUCCESS", Pips: 12})
	require.NoError(t, handler.Handle(ctx, msg))
	rec, _ := store.Get(id)
	assert.Equal(t, models.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, 12.0, rec.PipsResult)

	assert.NoError(t, handler.Handle(ctx, msg), "duplicates are ignored")

	bad, _ := json.Marshal(OutcomeReport{ID: id, Outcome: "PENDING"})
	assert.NoError(t, handler.Handle(ctx, bad))
	assert.NoError(t, handler.Handle(ctx, []byte("not json")))
}
