package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/domain/service"
	"PatternMemory/pkg/config"
	applogger "PatternMemory/pkg/logger"
)

// queries spanning more buckets than this scan the existing buckets instead
const maxDirectBuckets = 4096

type bucketKey struct {
	Type      models.PatternType
	Symbol    string
	Timeframe models.Timeframe
	Direction models.Direction
	Bucket    int64
}

// groupKey is the retention unit: count limits apply per (symbol, timeframe, type).
type groupKey struct {
	Symbol    string
	Timeframe models.Timeframe
	Type      models.PatternType
}

type bucket struct {
	mu      sync.RWMutex
	records map[string]*models.MemoryRecord
}

type groupEntry struct {
	id         string
	recordedAt time.Time
}

type group struct {
	mu    sync.Mutex
	order []groupEntry // oldest first
}

// Store is the historical memory. Writes lock only the affected bucket (and its
// retention group); queries take read locks bucket by bucket, so unrelated symbols
// never wait on each other.
//
// Lock order: epoch, then group, then bucket.
type Store struct {
	cfg  config.MemoryConfig
	inst config.InstrumentsConfig
	now  func() time.Time
	log  *applogger.Logger

	// epoch is held shared by every operation and exclusively by Snapshot and Restore.
	epoch   sync.RWMutex
	buckets sync.Map // bucketKey -> *bucket
	groups  sync.Map // groupKey -> *group
	index   sync.Map // record id -> bucketKey
}

var _ service.Memory = (*Store)(nil)

type Option func(*Store)

// WithClock overrides the time source used for recorded_at and retention.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *applogger.Logger) Option {
	return func(s *Store) { s.log = l }
}

func NewStore(cfg config.MemoryConfig, inst config.InstrumentsConfig, opts ...Option) *Store {
	s := &Store{
		cfg:  cfg,
		inst: inst,
		now:  time.Now,
		log:  applogger.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Step is the bucket width in price units for a symbol.
func (s *Store) Step(symbol string) float64 {
	return s.cfg.BucketPips * s.inst.PipSize(symbol)
}

// Tolerance is the default similarity tolerance in price units for a symbol.
func (s *Store) Tolerance(symbol string) float64 {
	return s.cfg.TolerancePips * s.inst.PipSize(symbol)
}

func (s *Store) bucketFor(k bucketKey) *bucket {
	if b, ok := s.buckets.Load(k); ok {
		return b.(*bucket)
	}
	b, _ := s.buckets.LoadOrStore(k, &bucket{records: make(map[string]*models.MemoryRecord)})
	return b.(*bucket)
}

func (s *Store) groupFor(k groupKey) *group {
	if g, ok := s.groups.Load(k); ok {
		return g.(*group)
	}
	g, _ := s.groups.LoadOrStore(k, &group{})
	return g.(*group)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, err)
}

// Record stores a PENDING record for the event and returns its id, which is the event id.
// Recording the same event twice returns the existing id.
func (s *Store) Record(ctx context.Context, e *models.PatternEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable(err)
	}
	if e == nil || e.Symbol == "" || !e.Direction.Valid() {
		return "", fmt.Errorf("%w: event needs a symbol and direction", models.ErrValidation)
	}

	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}

	s.epoch.RLock()
	defer s.epoch.RUnlock()

	if _, ok := s.index.Load(id); ok {
		return id, nil
	}

	g := s.groupFor(groupKey{Symbol: e.Symbol, Timeframe: e.Timeframe, Type: e.Type})
	g.mu.Lock()
	defer g.mu.Unlock()

	// same event ids always land in the same group, so this re-check is race free
	if _, ok := s.index.Load(id); ok {
		return id, nil
	}

	rec := &models.MemoryRecord{
		ID:          id,
		Type:        e.Type,
		Symbol:      e.Symbol,
		Timeframe:   e.Timeframe,
		Direction:   e.Direction,
		Bucket:      Quantize(e.AnchorPrice, s.Step(e.Symbol)),
		AnchorPrice: e.AnchorPrice,
		DetectedAt:  e.DetectedAt.UTC(),
		Outcome:     models.OutcomePending,
		RecordedAt:  s.now().UTC(),
	}
	s.insertLocked(g, rec)
	s.enforceLocked(g)

	return id, nil
}

// insertLocked adds a record. The caller holds the group lock.
func (s *Store) insertLocked(g *group, rec *models.MemoryRecord) {
	key := bucketKey{
		Type: rec.Type, Symbol: rec.Symbol, Timeframe: rec.Timeframe,
		Direction: rec.Direction, Bucket: rec.Bucket,
	}
	b := s.bucketFor(key)
	b.mu.Lock()
	b.records[rec.ID] = rec
	b.mu.Unlock()

	s.index.Store(rec.ID, key)
	g.order = append(g.order, groupEntry{id: rec.ID, recordedAt: rec.RecordedAt})
}

// enforceLocked evicts oldest-first past the age horizon or the count limit.
// The caller holds the group lock.
func (s *Store) enforceLocked(g *group) int {
	var cutoff time.Time
	if s.cfg.RetentionHorizon > 0 {
		cutoff = s.now().UTC().Add(-s.cfg.RetentionHorizon)
	}

	n := 0
	for len(g.order) > 0 {
		head := g.order[0]
		expired := !cutoff.IsZero() && head.recordedAt.Before(cutoff)
		overfull := s.cfg.MaxRecordsPerGroup > 0 && len(g.order) > s.cfg.MaxRecordsPerGroup
		if !expired && !overfull {
			break
		}
		s.evict(head.id)
		g.order = g.order[1:]
		n++
	}
	return n
}

func (s *Store) evict(id string) {
	v, ok := s.index.LoadAndDelete(id)
	if !ok {
		return
	}
	key := v.(bucketKey)
	b := s.bucketFor(key)
	b.mu.Lock()
	delete(b.records, id)
	empty := len(b.records) == 0
	b.mu.Unlock()

	// every writer to this bucket holds the same group lock as we do
	if empty {
		s.buckets.Delete(key)
	}
}

// Resolve sets the terminal outcome of a PENDING record. A record resolves only once.
func (s *Store) Resolve(ctx context.Context, id string, outcome models.Outcome, pips float64) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	if outcome != models.OutcomeSuccess && outcome != models.OutcomeFailure {
		return fmt.Errorf("%w: %q", models.ErrInvalidOutcome, outcome)
	}

	s.epoch.RLock()
	defer s.epoch.RUnlock()

	v, ok := s.index.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
	}
	b, ok := s.buckets.Load(v.(bucketKey))
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
	}
	bk := b.(*bucket)

	bk.mu.Lock()
	defer bk.mu.Unlock()

	rec, ok := bk.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
	}
	if rec.Outcome != models.OutcomePending {
		return fmt.Errorf("%w: %s is %s", models.ErrAlreadyResolved, id, rec.Outcome)
	}
	now := s.now().UTC()
	rec.Outcome = outcome
	rec.PipsResult = pips
	rec.ResolvedAt = &now
	return nil
}

// QuerySimilar aggregates resolved records in the buckets covering level +/- tolerance.
// No history yields a zero aggregate and no error.
func (s *Store) QuerySimilar(ctx context.Context, q models.SimilarQuery) (models.MemoryAggregate, error) {
	if err := ctx.Err(); err != nil {
		return models.MemoryAggregate{}, unavailable(err)
	}

	s.epoch.RLock()
	defer s.epoch.RUnlock()

	lo, hi := BucketRange(q.Level, q.Tolerance, s.Step(q.Symbol))
	base := bucketKey{Type: q.Type, Symbol: q.Symbol, Timeframe: q.Timeframe, Direction: q.Direction}

	acc := aggregator{exclude: q.ExcludeID, before: q.Before}
	if hi-lo < maxDirectBuckets {
		for n := lo; n <= hi; n++ {
			k := base
			k.Bucket = n
			if b, ok := s.buckets.Load(k); ok {
				acc.add(b.(*bucket))
			}
		}
	} else {
		s.buckets.Range(func(key, value any) bool {
			k := key.(bucketKey)
			if k.Bucket >= lo && k.Bucket <= hi {
				k.Bucket = 0
				if k == base {
					acc.add(value.(*bucket))
				}
			}
			return true
		})
	}
	return acc.result(), nil
}

type aggregator struct {
	exclude string
	before  time.Time

	samples   int
	successes int
	pips      float64
}

func (a *aggregator) add(b *bucket) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.records {
		if r.Outcome == models.OutcomePending || (a.exclude != "" && r.ID == a.exclude) {
			continue
		}
		// records without a detection time predate the field and count as history
		if !a.before.IsZero() && !r.DetectedAt.IsZero() && !r.DetectedAt.Before(a.before) {
			continue
		}
		a.samples++
		a.pips += r.PipsResult
		if r.Outcome == models.OutcomeSuccess {
			a.successes++
		}
	}
}

func (a *aggregator) result() models.MemoryAggregate {
	if a.samples == 0 {
		return models.MemoryAggregate{}
	}
	return models.MemoryAggregate{
		SuccessRate: 100 * float64(a.successes) / float64(a.samples),
		SampleCount: a.samples,
		AveragePips: a.pips / float64(a.samples),
	}
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (models.MemoryRecord, bool) {
	s.epoch.RLock()
	defer s.epoch.RUnlock()

	v, ok := s.index.Load(id)
	if !ok {
		return models.MemoryRecord{}, false
	}
	b, ok := s.buckets.Load(v.(bucketKey))
	if !ok {
		return models.MemoryRecord{}, false
	}
	bk := b.(*bucket)
	bk.mu.RLock()
	defer bk.mu.RUnlock()
	rec, ok := bk.records[id]
	if !ok {
		return models.MemoryRecord{}, false
	}
	return *rec, true
}

// Prune applies the retention policy to every group and returns how many records were evicted.
func (s *Store) Prune() int {
	s.epoch.RLock()
	defer s.epoch.RUnlock()

	total := 0
	s.groups.Range(func(_, value any) bool {
		g := value.(*group)
		g.mu.Lock()
		total += s.enforceLocked(g)
		g.mu.Unlock()
		return true
	})
	if total > 0 {
		s.log.Info("memory pruned", applogger.Int("evicted", total))
	}
	return total
}

// Stats summarizes the store contents.
func (s *Store) Stats() models.MemoryStats {
	s.epoch.RLock()
	defer s.epoch.RUnlock()

	st := models.MemoryStats{ByType: make(map[string]int)}
	s.buckets.Range(func(_, value any) bool {
		b := value.(*bucket)
		b.mu.RLock()
		if len(b.records) > 0 {
			st.Buckets++
		}
		for _, r := range b.records {
			st.Records++
			st.ByType[string(r.Type)]++
			if r.Outcome == models.OutcomePending {
				st.Pending++
			} else {
				st.Resolved++
			}
		}
		b.mu.RUnlock()
		return true
	})
	return st
}

// records copies every record sorted by recorded_at then id. Caller holds epoch.
func (s *Store) records() []models.MemoryRecord {
	var out []models.MemoryRecord
	s.buckets.Range(func(_, value any) bool {
		b := value.(*bucket)
		b.mu.RLock()
		for _, r := range b.records {
			out = append(out, *r)
		}
		b.mu.RUnlock()
		return true
	})
	sortRecords(out)
	return out
}

func sortRecords(rs []models.MemoryRecord) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].RecordedAt.Equal(rs[j].RecordedAt) {
			return rs[i].RecordedAt.Before(rs[j].RecordedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
