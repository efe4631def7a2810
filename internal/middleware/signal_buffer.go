package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"PatternMemory/internal/domain/models"
	domrepo "PatternMemory/internal/domain/repository"
	applogger "PatternMemory/pkg/logger"
)

var ErrBufferFull = errors.New("signal buffer full")

// BufferedPublisher sits between the emitter and a slow or flaky sink (webhook, Kafka).
// Signals the sink rejects are queued and retried in the background with backoff,
// so a sink outage does not lose signals until the buffer overflows.
type BufferedPublisher struct {
	next    domrepo.SignalPublisher
	metrics domrepo.Metrics
	log     *applogger.Logger
	name    string

	bufCh    chan *models.Signal
	stopCh   chan struct{}
	done     chan struct{}
	mu       sync.Mutex
	started  bool
	stopped  bool
	minDelay time.Duration
	maxDelay time.Duration
}

type BufferOption func(*BufferedPublisher)

func WithBufferBackoff(min, max time.Duration) BufferOption {
	return func(p *BufferedPublisher) {
		if min > 0 {
			p.minDelay = min
		}
		if max >= p.minDelay {
			p.maxDelay = max
		}
	}
}

func WithBufferLogger(l *applogger.Logger) BufferOption {
	return func(p *BufferedPublisher) {
		if l != nil {
			p.log = l
		}
	}
}

func WithBufferMetrics(m domrepo.Metrics) BufferOption {
	return func(p *BufferedPublisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

func NewBufferedPublisher(name string, next domrepo.SignalPublisher, size int, opts ...BufferOption) *BufferedPublisher {
	if size <= 0 {
		size = 64
	}
	p := &BufferedPublisher{
		next:     next,
		metrics:  domrepo.NopMetrics{},
		log:      applogger.Nop(),
		name:     name,
		bufCh:    make(chan *models.Signal, size),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		minDelay: 50 * time.Millisecond,
		maxDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the background retry loop.
func (p *BufferedPublisher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		backoff := p.minDelay
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case s := <-p.bufCh:
				if err := p.next.Publish(ctx, s); err != nil {
					p.metrics.RecordError("signal_buffer_retry")
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						p.requeue(s)
						return
					case <-ctx.Done():
						p.requeue(s)
						return
					}
					if backoff *= 2; backoff > p.maxDelay {
						backoff = p.maxDelay
					}
					p.requeue(s)
					continue
				}
				backoff = p.minDelay
			}
		}
	}()
}

func (p *BufferedPublisher) requeue(s *models.Signal) {
	select {
	case p.bufCh <- s:
	default:
		p.metrics.RecordError("signal_buffer_drop")
		p.log.Error("signal dropped, buffer full",
			applogger.String("sink", p.name),
			applogger.String("symbol", s.Symbol))
	}
}

// Publish validates s and forwards it. A sink failure queues the signal and is not
// reported unless the queue is full.
func (p *BufferedPublisher) Publish(ctx context.Context, s *models.Signal) error {
	start := time.Now()
	if err := validateSignal(s); err != nil {
		p.metrics.RecordError("signal_validate")
		return err
	}

	err := p.next.Publish(ctx, s)
	if err == nil {
		p.metrics.RecordLatency("signal_publish_"+p.name, time.Since(start).Seconds())
		return nil
	}

	p.log.Warn("signal sink failed, buffering",
		applogger.String("sink", p.name),
		applogger.String("symbol", s.Symbol),
		applogger.Error(err))
	select {
	case p.bufCh <- s:
		return nil
	default:
		p.metrics.RecordError("signal_buffer_full")
		return fmt.Errorf("%s: %w: %v", p.name, ErrBufferFull, err)
	}
}

// Pending is the number of queued signals.
func (p *BufferedPublisher) Pending() int { return len(p.bufCh) }

// Close stops the retry loop and closes the sink. Queued signals are dropped.
func (p *BufferedPublisher) Close() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)
	if started {
		<-p.done
	}
	if n := len(p.bufCh); n > 0 {
		p.log.Warn("signal buffer closed with pending signals", applogger.String("sink", p.name), applogger.Int("pending", n))
	}
	return p.next.Close()
}

func validateSignal(s *models.Signal) error {
	if s == nil {
		return fmt.Errorf("signal nil")
	}
	if s.Symbol == "" {
		return fmt.Errorf("signal symbol empty")
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("signal direction %q invalid", s.Direction)
	}
	for _, v := range []float64{s.EntryPrice, s.TargetPrice, s.InvalidationPrice, s.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("signal has non-finite price")
		}
	}
	return nil
}

var _ domrepo.SignalPublisher = (*BufferedPublisher)(nil)
