package candles

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternMemory/internal/domain/models"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func series(candles ...models.Candle) models.Series {
	return models.Series{Symbol: "EURUSD", Timeframe: models.TF1h, Candles: candles}
}

func at(i int, o, h, l, c float64) models.Candle {
	return models.Candle{Bucket: t0.Add(time.Duration(i) * time.Hour), Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		series  models.Series
		wantErr bool
		index   int
	}{
		{"valid", series(at(0, 1, 2, 0.5, 1.5), at(1, 1.5, 2, 1, 1.2)), false, 0},
		{"empty is valid", series(), false, 0},
		{"inverted high low", series(at(0, 1, 0.5, 2, 1)), true, 0},
		{"high below close", series(at(0, 1, 1.2, 0.9, 1.3)), true, 0},
		{"low above open", series(at(0, 1, 1.2, 1.1, 1.15)), true, 0},
		{"duplicate timestamp", series(at(0, 1, 2, 0.5, 1.5), at(0, 1, 2, 0.5, 1.5)), true, 1},
		{"backwards timestamp", series(at(1, 1, 2, 0.5, 1.5), at(0, 1, 2, 0.5, 1.5)), true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.series)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrValidation))

			var verr *models.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.index, verr.Index)
		})
	}
}

func TestValidateRejectsUnknownTimeframe(t *testing.T) {
	s := series(at(0, 1, 2, 0.5, 1.5))
	s.Timeframe = "7m"
	assert.ErrorIs(t, Validate(s), models.ErrValidation)
}
