package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/domain/repository"
	applogger "PatternMemory/pkg/logger"
)

// Persister moves snapshots between the store and a SnapshotStore. Every call is
// bounded by a timeout and guarded by a circuit breaker so a dead backend fails fast.
type Persister struct {
	mem     *Store
	backend repository.SnapshotStore
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	log     *applogger.Logger
	metrics repository.Metrics
}

type PersisterOption func(*Persister)

func WithPersisterLogger(l *applogger.Logger) PersisterOption {
	return func(p *Persister) {
		if l != nil {
			p.log = l
		}
	}
}

func WithPersisterMetrics(m repository.Metrics) PersisterOption {
	return func(p *Persister) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithBreaker trips after maxFailures consecutive failures and probes again after openTimeout.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) PersisterOption {
	return func(p *Persister) { p.cb = newBreaker(p.backend.Name(), maxFailures, openTimeout, p) }
}

func newBreaker(name string, maxFailures uint32, openTimeout time.Duration, p *Persister) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "memory-" + name,
		Interval: time.Minute,
		Timeout:  openTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn("memory persistence breaker state change",
				applogger.String("breaker", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()))
		},
	})
}

func NewPersister(mem *Store, backend repository.SnapshotStore, timeout time.Duration, opts ...PersisterOption) *Persister {
	p := &Persister{
		mem:     mem,
		backend: backend,
		timeout: timeout,
		log:     applogger.Nop(),
		metrics: repository.NopMetrics{},
	}
	p.cb = newBreaker(backend.Name(), 5, 30*time.Second, p)
	for _, o := range opts {
		o(p)
	}
	return p
}

// Save writes the current snapshot. Timeouts and an open breaker surface as ErrMemoryUnavailable.
func (p *Persister) Save(ctx context.Context) error {
	start := time.Now()
	snap := p.mem.Snapshot()

	_, err := p.cb.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return nil, p.backend.Save(cctx, snap)
	})
	if err != nil {
		err = p.classify(err)
		p.metrics.RecordError("memory_save")
		p.log.Error("memory snapshot save failed", applogger.String("backend", p.backend.Name()), applogger.Error(err))
		return err
	}

	p.metrics.RecordLatency("memory_save", time.Since(start).Seconds())
	p.log.Debug("memory snapshot saved",
		applogger.String("backend", p.backend.Name()),
		applogger.Int("records", len(snap.Records)),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

// Load restores the store from the backend. An empty backend leaves the store untouched.
func (p *Persister) Load(ctx context.Context) error {
	res, err := p.cb.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.backend.Load(cctx)
	})
	if err != nil {
		err = p.classify(err)
		p.metrics.RecordError("memory_load")
		return err
	}

	snap, _ := res.(*models.MemorySnapshot)
	if snap == nil {
		p.log.Info("no memory snapshot found", applogger.String("backend", p.backend.Name()))
		return nil
	}
	if err := p.mem.Restore(snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	p.log.Info("memory snapshot loaded",
		applogger.String("backend", p.backend.Name()),
		applogger.Int("schema_version", snap.SchemaVersion),
		applogger.Int("records", len(snap.Records)))
	return nil
}

// Run saves on every tick and once more when ctx ends.
func (p *Persister) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		p.final()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mem.Prune()
			_ = p.Save(ctx)
		case <-ctx.Done():
			p.final()
			return
		}
	}
}

func (p *Persister) final() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.Save(ctx); err == nil {
		p.log.Info("memory snapshot saved on shutdown", applogger.String("backend", p.backend.Name()))
	}
}

func (p *Persister) classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return unavailable(err)
	default:
		return err
	}
}
