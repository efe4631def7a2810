package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternMemory/internal/domain/models"
	"PatternMemory/pkg/config"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, mutate func(*config.MemoryConfig)) (*Store, *fakeClock) {
	t.Helper()
	cfg := config.Default()
	cfg.Instruments.DefaultPipSize = 1
	if mutate != nil {
		mutate(&cfg.Memory)
	}
	clock := &fakeClock{now: t0}
	return NewStore(cfg.Memory, cfg.Instruments, WithClock(clock.Now)), clock
}

func event(i int, anchor float64) *models.PatternEvent {
	return models.NewPatternEvent(models.StructureBreak, models.Bullish, "EURUSD", models.TF1h,
		anchor, t0.Add(time.Duration(i)*time.Hour))
}

func TestQuantize(t *testing.T) {
	assert.Equal(t, int64(110), Quantize(1.1000, 0.01))
	assert.Equal(t, int64(11000), Quantize(1.1, 0.0001), "grid lines do not drift")
	assert.Equal(t, int64(100), Quantize(1004, 10))
	assert.Equal(t, int64(101), Quantize(1005, 10))
	assert.Equal(t, int64(0), Quantize(5, 0))

	lo, hi := BucketRange(1000, 15, 10)
	assert.Equal(t, int64(99), lo)
	assert.Equal(t, int64(102), hi)
}

func TestRecordResolveQuery(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	e := event(0, 1000)
	id, err := s.Record(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, e.ID, id)

	rec, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.OutcomePending, rec.Outcome)
	assert.Equal(t, int64(100), rec.Bucket)
	assert.Equal(t, t0, rec.RecordedAt)

	later := models.QueryFor(event(1, 1000), 0)
	agg, err := s.QuerySimilar(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, models.MemoryAggregate{}, agg, "pending records are not history")

	require.NoError(t, s.Resolve(ctx, id, models.OutcomeSuccess, 25))
	agg, err = s.QuerySimilar(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.SampleCount)
	assert.Equal(t, 100.0, agg.SuccessRate)
	assert.Equal(t, 25.0, agg.AveragePips)

	err = s.Resolve(ctx, id, models.OutcomeFailure, -10)
	assert.ErrorIs(t, err, models.ErrAlreadyResolved)

	assert.ErrorIs(t, s.Resolve(ctx, "missing", models.OutcomeSuccess, 1), models.ErrRecordNotFound)
	assert.ErrorIs(t, s.Resolve(ctx, id, models.OutcomePending, 1), models.ErrInvalidOutcome)
}

func TestRecordIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t, nil)
	e := event(0, 1000)

	a, err := s.Record(context.Background(), e)
	require.NoError(t, err)
	b, err := s.Record(context.Background(), e)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, s.Stats().Records)
}

func TestQuerySimilarNoHistoryIsNeutral(t *testing.T) {
	s, _ := newTestStore(t, nil)
	agg, err := s.QuerySimilar(context.Background(), models.SimilarQuery{
		Type: models.GapZone, Symbol: "NOPE", Timeframe: models.TF4h, Direction: models.Bearish, Level: 10,
	})
	require.NoError(t, err)
	assert.Zero(t, agg.SampleCount)
}

func TestQuerySimilarRespectsKeyAndTolerance(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	resolve := func(e *models.PatternEvent, o models.Outcome) {
		id, err := s.Record(ctx, e)
		require.NoError(t, err)
		require.NoError(t, s.Resolve(ctx, id, o, 1))
	}

	resolve(event(0, 1000), models.OutcomeSuccess)
	resolve(event(1, 1030), models.OutcomeFailure)

	bearish := event(2, 1000)
	bearish.Direction = models.Bearish
	bearish.ID = "bearish"
	resolve(bearish, models.OutcomeFailure)

	other := models.NewPatternEvent(models.StructureBreak, models.Bullish, "GBPUSD", models.TF1h, 1000, t0)
	resolve(other, models.OutcomeFailure)

	q := models.QueryFor(event(9, 1000), 0)
	agg, err := s.QuerySimilar(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.SampleCount)
	assert.Equal(t, 100.0, agg.SuccessRate)

	q.Tolerance = 30
	agg, err = s.QuerySimilar(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.SampleCount)
	assert.Equal(t, 50.0, agg.SuccessRate)
}

func TestQuerySimilarOnlySeesEarlierOccurrences(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := s.Record(ctx, event(i, 1000))
		require.NoError(t, err)
		require.NoError(t, s.Resolve(ctx, id, models.OutcomeSuccess, 5))
	}

	rec, ok := s.Get(event(1, 1000).ID)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), rec.DetectedAt)

	agg, err := s.QuerySimilar(ctx, models.QueryFor(event(1, 1000), 0))
	require.NoError(t, err)
	assert.Equal(t, 1, agg.SampleCount, "own record and later ones are excluded")

	agg, err = s.QuerySimilar(ctx, models.QueryFor(event(0, 1000), 0))
	require.NoError(t, err)
	assert.Zero(t, agg.SampleCount)

	q := models.QueryFor(event(1, 1000), 0)
	q.ExcludeID, q.Before = "", time.Time{}
	agg, err = s.QuerySimilar(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.SampleCount, "an unbounded query sees everything")
}

func TestQuerySimilarWideToleranceScansBuckets(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	for i, anchor := range []float64{10, 50_000, 900_000} {
		id, err := s.Record(ctx, event(i, anchor))
		require.NoError(t, err)
		require.NoError(t, s.Resolve(ctx, id, models.OutcomeSuccess, 2))
	}
	agg, err := s.QuerySimilar(ctx, models.QueryFor(event(9, 0), 1_000_000))
	require.NoError(t, err)
	assert.Equal(t, 3, agg.SampleCount)
}

func TestRetentionByCount(t *testing.T) {
	s, clock := newTestStore(t, func(c *config.MemoryConfig) { c.MaxRecordsPerGroup = 3 })
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Record(ctx, event(i, 1000+float64(i)*100))
		require.NoError(t, err)
		ids = append(ids, id)
		clock.Advance(time.Minute)
	}

	for _, id := range ids[:2] {
		_, ok := s.Get(id)
		assert.False(t, ok, "oldest records are evicted first")
	}
	for _, id := range ids[2:] {
		_, ok := s.Get(id)
		assert.True(t, ok)
	}

	// a different pattern type is a different retention group
	gap := models.NewPatternEvent(models.GapZone, models.Bullish, "EURUSD", models.TF1h, 1000, t0)
	_, err := s.Record(ctx, gap)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Stats().Records)
}

func TestRetentionByAge(t *testing.T) {
	s, clock := newTestStore(t, func(c *config.MemoryConfig) { c.RetentionHorizon = 24 * time.Hour })
	ctx := context.Background()

	old, err := s.Record(ctx, event(0, 1000))
	require.NoError(t, err)
	clock.Advance(12 * time.Hour)
	young, err := s.Record(ctx, event(1, 1000))
	require.NoError(t, err)

	clock.Advance(13 * time.Hour)
	assert.Equal(t, 1, s.Prune())

	_, ok := s.Get(old)
	assert.False(t, ok)
	_, ok = s.Get(young)
	assert.True(t, ok)
}

func TestConcurrentWritesAndReads(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	symbols := []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD"}

	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(2)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				e := models.NewPatternEvent(models.ImbalanceZone, models.Bearish, sym, models.TF15m,
					2000+float64(i%7)*10, t0.Add(time.Duration(i)*time.Minute))
				id, err := s.Record(ctx, e)
				if !assert.NoError(t, err) {
					return
				}
				outcome := models.OutcomeSuccess
				if i%4 == 0 {
					outcome = models.OutcomeFailure
				}
				assert.NoError(t, s.Resolve(ctx, id, outcome, float64(i%5)))
			}
		}(sym)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := s.QuerySimilar(ctx, models.SimilarQuery{
					Type: models.ImbalanceZone, Symbol: sym, Timeframe: models.TF15m,
					Direction: models.Bearish, Level: 2030, Tolerance: 50,
				})
				assert.NoError(t, err)
			}
		}(sym)
	}
	wg.Wait()

	st := s.Stats()
	assert.Equal(t, 800, st.Records)
	assert.Equal(t, 800, st.Resolved)
	for _, sym := range symbols {
		agg, err := s.QuerySimilar(ctx, models.SimilarQuery{
			Type: models.ImbalanceZone, Symbol: sym, Timeframe: models.TF15m,
			Direction: models.Bearish, Level: 2030, Tolerance: 100,
		})
		require.NoError(t, err)
		assert.Equal(t, 200, agg.SampleCount, sym)
		assert.InDelta(t, 75.0, agg.SuccessRate, 0.001, sym)
	}
}

func TestCancelledContextIsUnavailable(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.QuerySimilar(ctx, models.QueryFor(event(0, 1), 0))
	assert.ErrorIs(t, err, models.ErrMemoryUnavailable)
	_, err = s.Record(ctx, event(0, 1))
	assert.ErrorIs(t, err, models.ErrMemoryUnavailable)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, clock := newTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		id, err := s.Record(ctx, event(i, 1000+float64(i)*7))
		require.NoError(t, err)
		if i%3 != 0 {
			outcome := models.OutcomeSuccess
			if i%2 == 0 {
				outcome = models.OutcomeFailure
			}
			require.NoError(t, s.Resolve(ctx, id, outcome, float64(i)))
		}
		clock.Advance(time.Second)
	}

	snap := s.Snapshot()
	require.Len(t, snap.Records, 12)
	assert.Equal(t, models.SnapshotSchemaVersion, snap.SchemaVersion)

	var buf bytes.Buffer
	require.NoError(t, EncodeSnapshot(&buf, snap))
	decoded, err := DecodeSnapshot(&buf)
	require.NoError(t, err)

	restored, _ := newTestStore(t, nil)
	require.NoError(t, restored.Restore(decoded))

	assert.Equal(t, snap.Records, restored.Snapshot().Records)
	assert.Equal(t, s.Stats(), restored.Stats())
}

func TestRestoreMigratesLegacySnapshot(t *testing.T) {
	s, _ := newTestStore(t, nil)
	legacy := &models.MemorySnapshot{
		SchemaVersion: 1,
		Records: []models.MemoryRecord{
			{Type: models.GapZone, Symbol: "EURUSD", Timeframe: models.TF1h, Direction: models.Bullish,
				Bucket: 100, Outcome: models.OutcomeSuccess, PipsResult: 12, RecordedAt: t0},
			{Type: models.GapZone, Symbol: "EURUSD", Timeframe: models.TF1h, Direction: models.Bullish,
				Bucket: 100, RecordedAt: t0.Add(time.Minute)},
		},
	}
	require.NoError(t, s.Restore(legacy))

	st := s.Stats()
	assert.Equal(t, 2, st.Records)
	assert.Equal(t, 1, st.Pending)

	agg, err := s.QuerySimilar(context.Background(), models.SimilarQuery{
		Type: models.GapZone, Symbol: "EURUSD", Timeframe: models.TF1h, Direction: models.Bullish, Level: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, agg.SampleCount)
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	s, _ := newTestStore(t, nil)
	err := s.Restore(&models.MemorySnapshot{SchemaVersion: 99})
	assert.ErrorIs(t, err, models.ErrUnsupportedVersion)
}

type fakeBackend struct {
	mu    sync.Mutex
	snap  *models.MemorySnapshot
	delay time.Duration
	err   error
	saves int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Save(ctx context.Context, snap *models.MemorySnapshot) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves++
	f.snap = snap
	return nil
}

func (f *fakeBackend) Load(ctx context.Context) (*models.MemorySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func TestPersisterSaveAndLoad(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Record(ctx, event(0, 1000))
	require.NoError(t, err)

	backend := &fakeBackend{}
	require.NoError(t, NewPersister(s, backend, time.Second).Save(ctx))
	require.NotNil(t, backend.snap)

	fresh, _ := newTestStore(t, nil)
	require.NoError(t, NewPersister(fresh, backend, time.Second).Load(ctx))
	assert.Equal(t, 1, fresh.Stats().Records)

	empty, _ := newTestStore(t, nil)
	require.NoError(t, NewPersister(empty, &fakeBackend{}, time.Second).Load(ctx), "nothing saved yet is not an error")
}

func TestPersisterTimeoutIsMemoryUnavailable(t *testing.T) {
	s, _ := newTestStore(t, nil)
	backend := &fakeBackend{delay: time.Second}

	err := NewPersister(s, backend, 20*time.Millisecond).Save(context.Background())
	assert.ErrorIs(t, err, models.ErrMemoryUnavailable)
}

func TestPersisterBreakerOpens(t *testing.T) {
	s, _ := newTestStore(t, nil)
	backend := &fakeBackend{err: errors.New("disk on fire")}
	p := NewPersister(s, backend, time.Second, WithBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		err := p.Save(context.Background())
		require.Error(t, err)
		assert.False(t, errors.Is(err, models.ErrMemoryUnavailable), fmt.Sprintf("attempt %d reaches the backend", i))
	}
	err := p.Save(context.Background())
	assert.ErrorIs(t, err, models.ErrMemoryUnavailable, "open breaker fails fast")
}
