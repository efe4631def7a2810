package service

import (
	"context"

	"PatternMemory/internal/domain/models"
)

// DetectionInput is everything one (symbol, timeframe) pass shares between detectors.
// It is built once per pass and treated as read-only.
type DetectionInput struct {
	Series models.Series
	Swings []models.SwingPoint

	// SwingErr is set when swings could not be extracted (usually ErrInsufficientData).
	SwingErr error
	ATR      []float64
	PipSize  float64
}

// Detector finds one pattern type in a candle series.
type Detector interface {
	Type() models.PatternType
	// Capable reports whether the input satisfies the detector's requirements.
	// A non-nil error excludes the detector from the pass.
	Capable(in *DetectionInput) error
	Detect(in *DetectionInput) ([]*models.PatternEvent, error)
}

// Memory is the historical memory contract consumed by scoring and outcome tracking.
type Memory interface {
	Record(ctx context.Context, e *models.PatternEvent) (string, error)
	Resolve(ctx context.Context, id string, outcome models.Outcome, pips float64) error
	QuerySimilar(ctx context.Context, q models.SimilarQuery) (models.MemoryAggregate, error)
}

// Scorer turns intrinsic strength plus memory into a confidence in [0,100].
type Scorer interface {
	Score(ctx context.Context, e *models.PatternEvent) float64
}
