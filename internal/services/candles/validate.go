package candles

import (
	"fmt"
	"math"

	"PatternMemory/internal/domain/models"
)

// Validate rejects malformed series at the ingestion boundary. Nothing is corrected:
// the first offending candle is reported as a *models.ValidationError.
func Validate(s models.Series) error {
	if s.Symbol == "" {
		return &models.ValidationError{Symbol: s.Symbol, Timeframe: s.Timeframe, Index: -1, Reason: "symbol is required"}
	}
	if !models.IsValidTimeframe(s.Timeframe) {
		return &models.ValidationError{Symbol: s.Symbol, Timeframe: s.Timeframe, Index: -1,
			Reason: fmt.Sprintf("unsupported timeframe %q", s.Timeframe)}
	}

	for i, c := range s.Candles {
		if reason := checkCandle(c); reason != "" {
			return &models.ValidationError{Symbol: s.Symbol, Timeframe: s.Timeframe, Index: i, Reason: reason}
		}
		if i > 0 && !c.Bucket.After(s.Candles[i-1].Bucket) {
			return &models.ValidationError{Symbol: s.Symbol, Timeframe: s.Timeframe, Index: i,
				Reason: fmt.Sprintf("timestamp %s not after previous %s",
					c.Bucket.UTC().Format("2006-01-02T15:04:05Z"), s.Candles[i-1].Bucket.UTC().Format("2006-01-02T15:04:05Z"))}
		}
	}
	return nil
}

func checkCandle(c models.Candle) string {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "non-finite value"
		}
	}
	switch {
	case c.Bucket.IsZero():
		return "missing timestamp"
	case c.High < c.Low:
		return fmt.Sprintf("inverted range: high %v below low %v", c.High, c.Low)
	case c.High < math.Max(c.Open, c.Close):
		return fmt.Sprintf("high %v below body", c.High)
	case c.Low > math.Min(c.Open, c.Close):
		return fmt.Sprintf("low %v above body", c.Low)
	case c.Volume < 0:
		return "negative volume"
	}
	return ""
}

// ValidateAll checks every series and returns the first failure.
func ValidateAll(series []models.Series) error {
	for _, s := range series {
		if err := Validate(s); err != nil {
			return err
		}
	}
	return nil
}
