package detectors

import (
	"math"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/services/features"
	"PatternMemory/internal/services/swing"
	"PatternMemory/pkg/config"
)

// volume ratio bounds for break strength
const (
	volumeFloor = 1.0
	volumeCap   = 1.5
)

// structureBreak is a close beyond the latest confirmed, not yet broken swing.
type structureBreak struct {
	bar       int
	dir       models.Direction
	level     models.SwingPoint
	reversal  bool    // the two preceding breaks both went the other way
	swingSize float64 // distance between the latest confirmed swing high and low
}

// scanBreaks walks the series bar by bar. A swing becomes eligible once its right-hand
// window closed before the current bar, and each swing can be broken only once.
// Only closes count: a wick through the level is ignored.
func scanBreaks(candles []models.Candle, swings []models.SwingPoint, lookback int) []structureBreak {
	var (
		out                   []structureBreak
		history               []models.Direction
		openHigh, openLow     *models.SwingPoint
		latestHigh, latestLow *models.SwingPoint
		next                  int
	)

	for i, c := range candles {
		for next < len(swings) && swing.ConfirmedAt(swings[next], lookback) < i {
			p := swings[next]
			if p.Kind == models.SwingHigh {
				openHigh, latestHigh = &p, &p
			} else {
				openLow, latestLow = &p, &p
			}
			next++
		}

		size := 0.0
		if latestHigh != nil && latestLow != nil {
			size = math.Abs(latestHigh.Price - latestLow.Price)
		}

		emit := func(dir models.Direction, level *models.SwingPoint) {
			n := len(history)
			rev := n >= 2 && history[n-1] == dir.Opposite() && history[n-2] == dir.Opposite()
			out = append(out, structureBreak{bar: i, dir: dir, level: *level, reversal: rev, swingSize: size})
			history = append(history, dir)
		}

		if openHigh != nil && c.Close > openHigh.Price {
			emit(models.Bullish, openHigh)
			openHigh = nil
		}
		if openLow != nil && c.Close < openLow.Price {
			emit(models.Bearish, openLow)
			openLow = nil
		}
	}
	return out
}

// breakStrength mixes breakout distance in ATR units with the volume expansion.
func breakStrength(cfg config.StructureConfig, candles []models.Candle, atr []float64, b structureBreak) (strength, distATR, volRatio float64) {
	c := candles[b.bar]
	dist := (c.Close - b.level.Price) * b.dir.Sign()
	if a := atr[b.bar]; a > 0 {
		distATR = dist / a
	}
	distScore := features.Clamp(distATR/cfg.DistanceATRCap, 0, 1)

	volRatio = features.VolumeRatio(candles, b.bar, cfg.VolumeWindow, volumeFloor, volumeCap)
	volScore := (volRatio - volumeFloor) / (volumeCap - volumeFloor)

	strength = features.Clamp((1-cfg.VolumeWeight)*distScore+cfg.VolumeWeight*volScore, 0, 1)
	return strength, distATR, volRatio
}
