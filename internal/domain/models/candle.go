package models

import "time"

// Candle is an OHLCV bar. Bucket is the bar open time.
type Candle struct {
	Bucket time.Time `json:"timestamp"`
	Symbol string    `json:"symbol,omitempty"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Body returns the signed body size (close - open).
func (c Candle) Body() float64 { return c.Close - c.Open }

func (c Candle) Bullish() bool { return c.Close > c.Open }

func (c Candle) Bearish() bool { return c.Close < c.Open }

// Series is an ordered candle sequence for one (symbol, timeframe) pair.
type Series struct {
	Symbol    string
	Timeframe Timeframe
	Candles   []Candle
}

// Last returns the newest candle of the series. ok is false for an empty series.
func (s Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}
