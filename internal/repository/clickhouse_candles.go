package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"PatternMemory/internal/domain/models"
	domrepo "PatternMemory/internal/domain/repository"
	pkgch "PatternMemory/pkg/clickhouse"
	applogger "PatternMemory/pkg/logger"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// CHCandleStore reads OHLCV bars from one ClickHouse table keyed by (symbol, timeframe, bucket).
type CHCandleStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, table string, l *applogger.Logger) (*CHCandleStore, error) {
	if !identRe.MatchString(table) {
		return nil, models.ConfigError("clickhouse.candles_table: invalid table name %q", table)
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &CHCandleStore{db: ch.DB(), table: table, l: l}, nil
}

// CandlesSchema creates the table the store reads.
func CandlesSchema(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol LowCardinality(String),
    timeframe LowCardinality(String),
    bucket DateTime64(3, 'UTC'),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Float64
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, timeframe, bucket)`, table)
}

func (s *CHCandleStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf models.Timeframe) ([]models.Candle, error) {
	q := fmt.Sprintf(`
        SELECT bucket, symbol, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ? AND timeframe = ? AND bucket >= ? AND bucket <= ?
        ORDER BY bucket ASC`, s.table)
	return s.query(ctx, "get_candles", q, false, symbol, tf, from, to)
}

// GetLatestNCandles returns the newest n bars in ascending time order.
func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf models.Timeframe) ([]models.Candle, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive", models.ErrValidation)
	}
	q := fmt.Sprintf(`
        SELECT bucket, symbol, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ? AND timeframe = ?
        ORDER BY bucket DESC
        LIMIT ?`, s.table)
	return s.query(ctx, "latest_candles", q, true, symbol, tf, n)
}

func (s *CHCandleStore) query(ctx context.Context, op, q string, reverse bool, symbol string, tf models.Timeframe, args ...any) ([]models.Candle, error) {
	start := time.Now()
	fields := []applogger.Field{
		applogger.String("table", s.table),
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
	}
	rows, err := s.db.QueryContext(ctx, q, append([]any{symbol, string(tf)}, args...)...)
	if err != nil {
		s.l.Error("clickhouse "+op+" query error", append(fields, applogger.Error(err))...)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			s.l.Error("clickhouse "+op+" scan error", append(fields, applogger.Error(err))...)
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		s.l.Error("clickhouse "+op+" rows error", append(fields, applogger.Error(err))...)
		return nil, fmt.Errorf("rows: %w", err)
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	s.l.Debug("clickhouse "+op+" ok", append(fields,
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))...)
	return out, nil
}

var _ domrepo.CandleStore = (*CHCandleStore)(nil)
