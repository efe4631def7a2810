package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/domain/repository"
	"PatternMemory/internal/domain/service"
	"PatternMemory/internal/services/features"
	"PatternMemory/pkg/config"
	applogger "PatternMemory/pkg/logger"
)

// Scorer converts intrinsic strength into a confidence and nudges it by how similar
// events resolved in the past. Memory lookups are bounded by a timeout; a slow or
// failing store never blocks scoring, the event is just scored without history.
type Scorer struct {
	mem     service.Memory
	cfg     config.ScoringConfig
	inst    config.InstrumentsConfig
	tolPips float64
	timeout time.Duration
	log     *applogger.Logger
	metrics repository.Metrics
}

var _ service.Scorer = (*Scorer)(nil)

type Option func(*Scorer)

func WithLogger(l *applogger.Logger) Option { return func(s *Scorer) { s.log = l } }

func WithMetrics(m repository.Metrics) Option { return func(s *Scorer) { s.metrics = m } }

func New(mem service.Memory, cfg *config.Config, opts ...Option) *Scorer {
	s := &Scorer{
		mem:     mem,
		cfg:     cfg.Scoring,
		inst:    cfg.Instruments,
		tolPips: cfg.Memory.TolerancePips,
		timeout: cfg.Memory.Timeout,
		log:     applogger.Nop(),
		metrics: repository.NopMetrics{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Base is the confidence implied by intrinsic strength alone.
func Base(strength float64) float64 {
	return 100 * features.Clamp(strength, 0, 1)
}

// Bonus is the memory adjustment for an aggregate. It is zero below the sample minimum.
func Bonus(cfg config.ScoringConfig, agg models.MemoryAggregate) float64 {
	if agg.SampleCount == 0 || agg.SampleCount < cfg.MinSamples {
		return 0
	}
	return features.Clamp((agg.SuccessRate-50)*cfg.Sensitivity, -cfg.MaxBonus, cfg.MaxBonus)
}

// Score returns the confidence of e in [0,100]. It records the number of memory samples
// on the event, or marks it degraded when memory could not answer in time.
func (s *Scorer) Score(ctx context.Context, e *models.PatternEvent) float64 {
	base := Base(e.Strength)
	if s.mem == nil {
		return base
	}

	q := models.QueryFor(e, s.tolPips*s.inst.PipSize(e.Symbol))
	agg, err := s.lookup(ctx, q)
	if err != nil {
		e.SetMeta(models.MetaMemoryDegraded, true)
		s.metrics.RecordMemoryDegraded()
		s.log.Warn("memory lookup degraded, scoring without history",
			applogger.String("symbol", e.Symbol),
			applogger.String("timeframe", string(e.Timeframe)),
			applogger.String("pattern", string(e.Type)),
			applogger.Error(err))
		return base
	}

	e.SetMeta(models.MetaMemorySamples, agg.SampleCount)
	return features.Clamp(base+Bonus(s.cfg, agg), 0, 100)
}

// ScoreAll scores every event and reports whether any lookup degraded.
func (s *Scorer) ScoreAll(ctx context.Context, events []*models.PatternEvent) ([]models.ScoredEvent, bool) {
	out := make([]models.ScoredEvent, 0, len(events))
	degraded := false
	for _, e := range events {
		c := s.Score(ctx, e)
		if v, ok := e.Metadata[models.MetaMemoryDegraded].(bool); ok && v {
			degraded = true
		}
		out = append(out, models.ScoredEvent{Event: e, Confidence: c})
	}
	return out, degraded
}

type lookupResult struct {
	agg models.MemoryAggregate
	err error
}

// lookup waits for the store at most s.timeout, even if the store ignores ctx.
func (s *Scorer) lookup(ctx context.Context, q models.SimilarQuery) (models.MemoryAggregate, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ch := make(chan lookupResult, 1)
	go func() {
		agg, err := s.mem.QuerySimilar(ctx, q)
		ch <- lookupResult{agg: agg, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && !errors.Is(r.err, models.ErrMemoryUnavailable) {
			return r.agg, fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, r.err)
		}
		return r.agg, r.err
	case <-ctx.Done():
		return models.MemoryAggregate{}, fmt.Errorf("%w: %v", models.ErrMemoryUnavailable, ctx.Err())
	}
}
