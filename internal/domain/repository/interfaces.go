package repository

import (
	"context"

	"PatternMemory/internal/domain/models"
)

// SnapshotStore persists the serialized memory. Load returns (nil, nil) when nothing was saved yet.
type SnapshotStore interface {
	Save(ctx context.Context, snap *models.MemorySnapshot) error
	Load(ctx context.Context) (*models.MemorySnapshot, error)
	Name() string
}

// SignalPublisher delivers emitted signals to an external consumer.
type SignalPublisher interface {
	Publish(ctx context.Context, s *models.Signal) error
	Close() error
}

type Metrics interface {
	RecordPattern(patternType, timeframe string)
	RecordDetectorFailure(patternType string)
	RecordDetectorSkipped(patternType string)
	RecordMemoryDegraded()
	RecordSignal(symbol, direction string)
	RecordSignalSuppressed(symbol string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

// NopMetrics discards everything. Used when metrics are disabled and in tests.
type NopMetrics struct{}

func (NopMetrics) RecordPattern(string, string)  {}
func (NopMetrics) RecordDetectorFailure(string)  {}
func (NopMetrics) RecordDetectorSkipped(string)  {}
func (NopMetrics) RecordMemoryDegraded()         {}
func (NopMetrics) RecordSignal(string, string)   {}
func (NopMetrics) RecordSignalSuppressed(string) {}
func (NopMetrics) RecordError(string)            {}
func (NopMetrics) RecordLatency(string, float64) {}
