package swing

import (
	"PatternMemory/internal/domain/models"
)

// Extract returns swing highs and lows ordered by bar index, a HIGH before a LOW on the same bar.
//
// Bar i is a swing high when its high beats every high within lookback bars on both
// sides. Among equal extremes the earlier bar wins: earlier neighbours must be strictly
// lower while later neighbours may tie. Lows are symmetric. The result for bar i only
// depends on bars [i-lookback, i+lookback].
func Extract(candles []models.Candle, lookback int) ([]models.SwingPoint, error) {
	if lookback < 1 {
		return nil, models.ConfigError("swing lookback must be >= 1, got %d", lookback)
	}
	need := 2*lookback + 1
	if len(candles) < need {
		return nil, models.InsufficientData(len(candles), need)
	}

	var out []models.SwingPoint
	for i := lookback; i < len(candles)-lookback; i++ {
		high, low := isSwing(candles, i, lookback)
		if high {
			out = append(out, models.SwingPoint{
				Timestamp: candles[i].Bucket, Price: candles[i].High, Kind: models.SwingHigh, Index: i,
			})
		}
		if low {
			out = append(out, models.SwingPoint{
				Timestamp: candles[i].Bucket, Price: candles[i].Low, Kind: models.SwingLow, Index: i,
			})
		}
	}
	return out, nil
}

func isSwing(candles []models.Candle, i, w int) (high, low bool) {
	c := candles[i]
	high, low = true, true
	for j := i - w; j < i; j++ {
		if candles[j].High >= c.High {
			high = false
		}
		if candles[j].Low <= c.Low {
			low = false
		}
	}
	for j := i + 1; j <= i+w; j++ {
		if candles[j].High > c.High {
			high = false
		}
		if candles[j].Low < c.Low {
			low = false
		}
	}
	return high, low
}

// ConfirmedAt is the bar index at which a swing's right-hand window is complete.
func ConfirmedAt(p models.SwingPoint, lookback int) int { return p.Index + lookback }
