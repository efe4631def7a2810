package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternMemory/internal/domain/models"
	pkgcache "PatternMemory/pkg/cache"
	pkghttp "PatternMemory/pkg/http"
)

func snapshot() *models.MemorySnapshot {
	return &models.MemorySnapshot{
		SchemaVersion: models.SnapshotSchemaVersion,
		SavedAt:       time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		Records: []models.MemoryRecord{{
			ID: "a", Type: models.GapZone, Symbol: "EURUSD", Timeframe: models.TF1h,
			Direction: models.Bullish, Bucket: 11000, AnchorPrice: 1.1, Outcome: models.OutcomePending,
		}},
	}
}

func TestFileSnapshotStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "memory.json")
	s := NewFileSnapshotStore(path)
	ctx := context.Background()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "missing file is an empty memory")

	require.NoError(t, s.Save(ctx, snapshot()))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "a", got.Records[0].ID)

	entries, _ := os.ReadDir(filepath.Dir(path))
	assert.Len(t, entries, 1, "temp files are cleaned up")

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = s.Load(ctx)
	assert.Error(t, err)
}

type mapStore struct{ m map[string][]byte }

func (s *mapStore) GetBytes(_ context.Context, k string) ([]byte, error) {
	b, ok := s.m[k]
	if !ok {
		return nil, pkgcache.ErrCacheMiss
	}
	return b, nil
}

func (s *mapStore) SetBytes(_ context.Context, k string, v []byte, _ time.Duration) error {
	s.m[k] = v
	return nil
}

func (s *mapStore) SetNX(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (s *mapStore) Delete(context.Context, ...string) error                   { return nil }
func (s *mapStore) Close() error                                              { return nil }

func TestRedisSnapshotStore(t *testing.T) {
	s := NewRedisSnapshotStore(&mapStore{m: map[string][]byte{}})
	ctx := context.Background()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Save(ctx, snapshot()))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotSchemaVersion, got.SchemaVersion)
	assert.Equal(t, "redis", s.Name())
}

func TestWebhookPublisher(t *testing.T) {
	var got models.Signal
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EURUSD", r.Header.Get("X-Signal-Symbol"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(pkghttp.NewClient(), srv.URL)
	sig := &models.Signal{Symbol: "EURUSD", Direction: models.Bearish, EntryPrice: 1.2}
	require.NoError(t, p.Publish(context.Background(), sig))
	assert.Equal(t, models.Bearish, got.Direction)
}

func TestChannelPublisher(t *testing.T) {
	p := NewChannelPublisher(1)
	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, &models.Signal{Symbol: "A"}))

	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Publish(tctx, &models.Signal{Symbol: "B"}), context.DeadlineExceeded)

	assert.Equal(t, "A", (<-p.Signals()).Symbol)
	require.NoError(t, p.Close())
	assert.Error(t, p.Publish(ctx, &models.Signal{}))
	_, open := <-p.Signals()
	assert.False(t, open)
}

func TestCandleTableNameValidated(t *testing.T) {
	assert.True(t, identRe.MatchString("patmem.candles"))
	assert.False(t, identRe.MatchString("candles; DROP TABLE x"))
	assert.Contains(t, CandlesSchema("candles"), "ORDER BY (symbol, timeframe, bucket)")
}
