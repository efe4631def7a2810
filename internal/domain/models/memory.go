package models

import (
	"fmt"
	"time"
)

type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// ParseOutcome accepts only terminal outcomes.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeSuccess, OutcomeFailure:
		return o, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
}

// MemoryRecord remembers one detected event and, once known, how it resolved.
type MemoryRecord struct {
	ID          string      `json:"id"`
	Type        PatternType `json:"pattern_type"`
	Symbol      string      `json:"symbol"`
	Timeframe   Timeframe   `json:"timeframe"`
	Direction   Direction   `json:"direction"`
	Bucket      int64       `json:"break_level_bucket"`
	AnchorPrice float64     `json:"anchor_price"`
	DetectedAt  time.Time   `json:"detected_at"`
	Outcome     Outcome     `json:"outcome"`
	PipsResult  float64     `json:"pips_result"`
	RecordedAt  time.Time   `json:"recorded_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
}

// SimilarQuery selects records of one (type, symbol, timeframe, direction) near a level.
// ExcludeID drops one record; a non-zero Before keeps only records detected earlier.
type SimilarQuery struct {
	Type      PatternType
	Symbol    string
	Timeframe Timeframe
	Direction Direction
	Level     float64
	Tolerance float64
	ExcludeID string
	Before    time.Time
}

// QueryFor builds the lookup matching an event's anchor. Only occurrences detected
// before the event count, so an event never sees its own outcome.
func QueryFor(e *PatternEvent, tolerance float64) SimilarQuery {
	return SimilarQuery{
		Type:      e.Type,
		Symbol:    e.Symbol,
		Timeframe: e.Timeframe,
		Direction: e.Direction,
		Level:     e.AnchorPrice,
		Tolerance: tolerance,
		ExcludeID: e.ID,
		Before:    e.DetectedAt,
	}
}

// MemoryAggregate summarizes resolved similar records. SuccessRate is a percentage.
// SampleCount == 0 means no history and must not adjust anything.
type MemoryAggregate struct {
	SuccessRate float64 `json:"success_rate"`
	SampleCount int     `json:"sample_count"`
	AveragePips float64 `json:"average_pips"`
}

// SnapshotSchemaVersion is the current serialized memory layout.
const SnapshotSchemaVersion = 2

// MemorySnapshot is the persisted form of every record in the store.
type MemorySnapshot struct {
	SchemaVersion int            `json:"schema_version"`
	SavedAt       time.Time      `json:"saved_at"`
	Records       []MemoryRecord `json:"records"`
}

// MemoryStats is a summary of store contents.
type MemoryStats struct {
	Records  int            `json:"records"`
	Buckets  int            `json:"buckets"`
	Pending  int            `json:"pending"`
	Resolved int            `json:"resolved"`
	ByType   map[string]int `json:"by_type"`
}
