package features

import (
	"math"
	"time"

	talib "github.com/markcheno/go-talib"

	"PatternMemory/internal/domain/models"
)

// TrueRange returns the per-bar true range. The first bar uses high-low.
func TrueRange(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		tr := c.High - c.Low
		if i > 0 {
			prev := candles[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATRSeries returns an average true range value for every bar.
// Bars covered by the Wilder ATR use it; earlier bars, or any bar where it is
// not usable, fall back to the running mean true range so every index is defined.
func ATRSeries(candles []models.Candle, period int) []float64 {
	n := len(candles)
	if n == 0 {
		return nil
	}
	if period < 1 {
		period = 1
	}

	tr := TrueRange(candles)
	out := make([]float64, n)

	var wilder []float64
	if n > period {
		highs := make([]float64, n)
		lows := make([]float64, n)
		closes := make([]float64, n)
		for i, c := range candles {
			highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
		}
		wilder = talib.Atr(highs, lows, closes, period)
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		sum += tr[i]
		out[i] = sum / float64(i+1)
		if i >= period && i < len(wilder) {
			if v := wilder[i]; v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
				out[i] = v
			}
		}
	}
	return out
}

// AverageVolume is the mean volume of the window bars before end (exclusive).
// Returns 0 when no bars precede end.
func AverageVolume(candles []models.Candle, end, window int) float64 {
	start := end - window
	if start < 0 {
		start = 0
	}
	if end > len(candles) {
		end = len(candles)
	}
	if end <= start {
		return 0
	}
	sum := 0.0
	for i := start; i < end; i++ {
		sum += candles[i].Volume
	}
	return sum / float64(end-start)
}

// VolumeRatio compares a bar's volume with the trailing average, clamped to [floor, ceil].
// A missing average yields the floor.
func VolumeRatio(candles []models.Candle, i, window int, floor, ceil float64) float64 {
	avg := AverageVolume(candles, i, window)
	if avg <= 0 {
		return floor
	}
	return Clamp(candles[i].Volume/avg, floor, ceil)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AlignFromTo rounds a time range to candle boundaries of the timeframe.
func AlignFromTo(from, to time.Time, tf models.Timeframe) (time.Time, time.Time) {
	d := tf.Duration()
	if d <= 0 {
		d = time.Minute
	}
	return from.Truncate(d), to.Truncate(d)
}
