package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	mid "PatternMemory/internal/middleware"
	"PatternMemory/internal/services/memory"
	"PatternMemory/internal/usecase"
	"PatternMemory/pkg/config"
	xhttp "PatternMemory/pkg/http"
	pkgkafka "PatternMemory/pkg/kafka"
	applogger "PatternMemory/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg       *config.Config
	log       *applogger.Logger
	http      *xhttp.Server
	persister *memory.Persister
	emitter   *usecase.Emitter
	sinks     []*mid.BufferedPublisher
	scheduler *usecase.Scheduler
	consumer  *pkgkafka.Consumer
	handlers  []pkgkafka.MessageHandler

	// drains run once background loops have stopped, before sinks close
	drains []func()
	// closers release infrastructure clients after everything else has stopped
	closers []func() error
}

type Option func(*App)

func WithPersister(p *memory.Persister) Option { return func(a *App) { a.persister = p } }

func WithScheduler(s *usecase.Scheduler) Option { return func(a *App) { a.scheduler = s } }

// WithConsumer attaches a Kafka consumer and the handlers it should run.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.handlers = handlers
	}
}

func WithSinks(sinks ...*mid.BufferedPublisher) Option {
	return func(a *App) { a.sinks = sinks }
}

// WithCloser registers a cleanup run last during shutdown, in reverse registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) {
		if fn != nil {
			a.closers = append(a.closers, fn)
		}
	}
}

// WithDrain registers a hook that runs after background loops stop and before sinks close.
func WithDrain(fn func()) Option {
	return func(a *App) {
		if fn != nil {
			a.drains = append(a.drains, fn)
		}
	}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, http *xhttp.Server, emitter *usecase.Emitter, opts ...Option) *App {
	if log == nil {
		log = applogger.Nop()
	}
	a := &App{cfg: cfg, log: log, http: http, emitter: emitter}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run starts every component and blocks until ctx ends, SIGINT/SIGTERM arrives or the
// HTTP listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	if a.persister != nil {
		if err := a.persister.Load(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			// memory starts empty; scoring degrades to intrinsic strength until it refills
			a.log.Error("memory snapshot load failed, starting empty", applogger.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.persister.Run(runCtx, a.cfg.Memory.SnapshotInterval)
		}()
	}

	for _, s := range a.sinks {
		s.Start(runCtx)
	}

	if a.consumer != nil && len(a.handlers) > 0 {
		topics := make([]string, 0, len(a.handlers))
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		a.consumer.SetHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(), a.consumerLogHook()))
		if err := a.consumer.Start(runCtx); err != nil {
			a.log.Error("kafka consumer start failed", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer running", applogger.Strings("topics", topics))
		}
	}

	if a.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.scheduler.Run(runCtx)
		}()
		a.log.Info("scheduled analysis started",
			applogger.Strings("symbols", a.cfg.Analysis.Symbols),
			applogger.Duration("interval", a.cfg.Analysis.Interval))
	}

	var httpErr <-chan error
	if a.http != nil {
		httpErr = a.http.Start()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err, ok := <-httpErr:
		if ok && err != nil {
			runErr = err
		}
	}

	a.shutdown(cancel, &wg)
	return runErr
}

// consumerLogHook logs handler failures with the message coordinates and trace id.
func (a *App) consumerLogHook() pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		After: func(ctx context.Context, km kafkago.Message, _ []byte, err error) {
			if err != nil {
				return
			}
			if start := pkgkafka.StartTime(ctx); !start.IsZero() {
				a.log.Debug("kafka message handled",
					applogger.String("topic", km.Topic),
					applogger.Int("partition", km.Partition),
					applogger.Int64("offset", km.Offset),
					applogger.Duration("duration_ms", time.Since(start)))
			}
		},
		Err: func(ctx context.Context, km kafkago.Message, _ []byte, err error) {
			a.log.Error("kafka message failed",
				applogger.String("topic", km.Topic),
				applogger.Int("partition", km.Partition),
				applogger.Int64("offset", km.Offset),
				applogger.String("trace_id", pkgkafka.TraceID(ctx)),
				applogger.Error(err))
		},
	}
}

// shutdown stops intake first, then background loops, then sinks and clients.
func (a *App) shutdown(cancel context.CancelFunc, wg *sync.WaitGroup) {
	ctx, done := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer done()

	if a.http != nil {
		if err := a.http.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.consumer != nil && len(a.handlers) > 0 {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// cancelling runCtx stops the scheduler and makes the persister write its final snapshot
	cancel()
	wg.Wait()

	for _, fn := range a.drains {
		fn()
	}
	if a.emitter != nil {
		if err := a.emitter.Close(); err != nil {
			a.log.Warn("signal sinks close error", applogger.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("resource close error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
