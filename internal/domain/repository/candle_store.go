package repository

import (
	"context"
	"time"

	"PatternMemory/internal/domain/models"
)

// CandleStore provides read-only access to stored candles for scheduled analysis.
type CandleStore interface {
	GetCandles(ctx context.Context, symbol string, from, to time.Time, tf models.Timeframe) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf models.Timeframe) ([]models.Candle, error)
}
