package detectors

import (
	"fmt"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/domain/service"
	"PatternMemory/pkg/config"
)

// All returns one detector per pattern type, in models.PatternTypes order.
func All(cfg config.DetectionConfig) []service.Detector {
	return []service.Detector{
		NewStructureBreak(cfg),
		NewCharacterChange(cfg),
		NewImbalanceZone(cfg),
		NewGapZone(cfg),
	}
}

// requireBars is the common capability check: enough candles and an ATR per bar.
func requireBars(in *service.DetectionInput, need int) error {
	n := len(in.Series.Candles)
	if n < need {
		return models.InsufficientData(n, need)
	}
	if len(in.ATR) != n {
		return fmt.Errorf("atr series has %d values for %d candles", len(in.ATR), n)
	}
	if in.PipSize <= 0 {
		return models.ConfigError("pip size must be positive for %s", in.Series.Symbol)
	}
	return nil
}

// requireSwings additionally needs a successful swing extraction.
func requireSwings(in *service.DetectionInput) error {
	if in.SwingErr != nil {
		return fmt.Errorf("swings unavailable: %w", in.SwingErr)
	}
	return requireBars(in, 2)
}

func newEvent(in *service.DetectionInput, t models.PatternType, dir models.Direction, anchor float64, bar int) *models.PatternEvent {
	c := in.Series.Candles[bar]
	e := models.NewPatternEvent(t, dir, in.Series.Symbol, in.Series.Timeframe, anchor, c.Bucket)
	e.SetMeta(models.MetaBarIndex, bar)
	return e
}

func candleDirection(c models.Candle) (models.Direction, bool) {
	switch {
	case c.Bullish():
		return models.Bullish, true
	case c.Bearish():
		return models.Bearish, true
	default:
		return "", false
	}
}
