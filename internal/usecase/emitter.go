package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"PatternMemory/internal/domain/models"
	domrepo "PatternMemory/internal/domain/repository"
	"PatternMemory/internal/service/cache"
	applogger "PatternMemory/pkg/logger"
)

// Emitter hands signals to every sink, at most once per (symbol, direction, window).
type Emitter struct {
	claims  cache.Claimer
	window  time.Duration
	sinks   []domrepo.SignalPublisher
	log     *applogger.Logger
	metrics domrepo.Metrics
}

func NewEmitter(claims cache.Claimer, window time.Duration, log *applogger.Logger, metrics domrepo.Metrics, sinks ...domrepo.SignalPublisher) *Emitter {
	log, metrics = orNop(log, metrics)
	return &Emitter{claims: claims, window: window, sinks: sinks, log: log, metrics: metrics}
}

// DedupeKey buckets created_at into fixed windows since the epoch.
func DedupeKey(s *models.Signal, window time.Duration) string {
	slot := int64(0)
	if window > 0 {
		slot = s.CreatedAt.UnixNano() / int64(window)
	}
	return s.Symbol + "|" + string(s.Direction) + "|" + strconv.FormatInt(slot, 10)
}

// Emit publishes s unless one was already emitted for its window. A failed claim
// suppresses the signal rather than risk a duplicate downstream.
func (e *Emitter) Emit(ctx context.Context, s *models.Signal) (bool, error) {
	if s == nil {
		return false, nil
	}
	key := DedupeKey(s, e.window)
	ok, err := e.claims.Claim(ctx, key, e.window)
	if err != nil {
		e.metrics.RecordError("signal_claim")
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		e.metrics.RecordSignalSuppressed(s.Symbol)
		e.log.Debug("duplicate signal suppressed", applogger.String("key", key))
		return false, nil
	}

	var errs []error
	for _, sink := range e.sinks {
		if err := sink.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	e.metrics.RecordSignal(s.Symbol, string(s.Direction))
	e.log.Info("signal emitted",
		applogger.String("symbol", s.Symbol),
		applogger.String("timeframe", string(s.Timeframe)),
		applogger.String("direction", string(s.Direction)),
		applogger.Float64("confidence", s.Confidence),
		applogger.Float64("entry", s.EntryPrice),
		applogger.Float64("target", s.TargetPrice),
		applogger.Float64("invalidation", s.InvalidationPrice))

	if err := errors.Join(errs...); err != nil {
		e.metrics.RecordError("signal_publish")
		return true, fmt.Errorf("publish signal: %w", err)
	}
	return true, nil
}

// Close closes every sink.
func (e *Emitter) Close() error {
	var errs []error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
