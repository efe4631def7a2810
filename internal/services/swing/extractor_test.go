package swing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternMemory/internal/domain/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fromMids builds candles whose high/low sit one unit around each midpoint.
func fromMids(mids ...float64) []models.Candle {
	out := make([]models.Candle, len(mids))
	for i, m := range mids {
		out[i] = models.Candle{
			Bucket: t0.Add(time.Duration(i) * time.Hour),
			Open:   m, Close: m, High: m + 1, Low: m - 1, Volume: 1,
		}
	}
	return out
}

func TestExtractFindsHighsAndLows(t *testing.T) {
	candles := fromMids(10, 11, 12, 15, 12, 11, 10, 8, 10, 11, 12)
	swings, err := Extract(candles, 2)
	require.NoError(t, err)
	require.Len(t, swings, 2)

	assert.Equal(t, models.SwingHigh, swings[0].Kind)
	assert.Equal(t, 3, swings[0].Index)
	assert.Equal(t, 16.0, swings[0].Price)
	assert.Equal(t, candles[3].Bucket, swings[0].Timestamp)

	assert.Equal(t, models.SwingLow, swings[1].Kind)
	assert.Equal(t, 7, swings[1].Index)
	assert.Equal(t, 7.0, swings[1].Price)
}

func TestExtractTiePrefersEarlierBar(t *testing.T) {
	candles := fromMids(10, 11, 15, 15, 11, 10, 9)
	swings, err := Extract(candles, 2)
	require.NoError(t, err)

	var highs []int
	for _, s := range swings {
		if s.Kind == models.SwingHigh {
			highs = append(highs, s.Index)
		}
	}
	assert.Equal(t, []int{2}, highs)
}

func TestExtractInsufficientData(t *testing.T) {
	_, err := Extract(fromMids(1, 2, 3, 4), 2)
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	_, err = Extract(fromMids(1, 2, 3, 2, 1), 2)
	assert.NoError(t, err, "exactly 2*lookback+1 bars is enough")
}

func TestExtractRejectsBadLookback(t *testing.T) {
	_, err := Extract(fromMids(1, 2, 3), 0)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestExtractLocality(t *testing.T) {
	base := fromMids(10, 11, 12, 15, 12, 11, 10, 8, 10, 11, 12, 13, 14, 13, 12)
	const lookback = 2

	want, err := Extract(base, lookback)
	require.NoError(t, err)

	// swing at index 3 only depends on bars 1..5; disturb everything else
	mutated := append([]models.Candle(nil), base...)
	for _, i := range []int{0, 9, 10, 11, 12, 13, 14} {
		mutated[i].High += 0.5 * float64(i)
		mutated[i].Low -= 0.25
	}
	got, err := Extract(mutated, lookback)
	require.NoError(t, err)

	find := func(ps []models.SwingPoint, idx int) []models.SwingPoint {
		var out []models.SwingPoint
		for _, p := range ps {
			if p.Index == idx {
				out = append(out, p)
			}
		}
		return out
	}
	assert.Equal(t, find(want, 3), find(got, 3))
}

func TestExtractIsDeterministic(t *testing.T) {
	candles := fromMids(5, 7, 6, 9, 4, 8, 3, 10, 2, 6, 7)
	a, err := Extract(candles, 1)
	require.NoError(t, err)
	b, err := Extract(candles, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
