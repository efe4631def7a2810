package memory

import "github.com/shopspring/decimal"

// Quantize maps a price onto a grid of the given step and returns the bucket number.
// Decimal arithmetic keeps prices that sit exactly on a grid line from drifting into
// the neighbouring bucket.
func Quantize(price, step float64) int64 {
	if step <= 0 {
		return 0
	}
	return decimal.NewFromFloat(price).
		Div(decimal.NewFromFloat(step)).
		Round(0).
		IntPart()
}

// BucketRange returns the inclusive bucket span covering level +/- tolerance.
func BucketRange(level, tolerance, step float64) (lo, hi int64) {
	if tolerance < 0 {
		tolerance = -tolerance
	}
	return Quantize(level-tolerance, step), Quantize(level+tolerance, step)
}
