package models

import (
	"fmt"
	"time"
)

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var timeframeOrder = []Timeframe{TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF1d}

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// ParseTimeframe converts a raw string into a supported timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !IsValidTimeframe(tf) {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the bar length, zero for unknown timeframes.
func (tf Timeframe) Duration() time.Duration { return timeframeDurations[tf] }

// Rank orders timeframes from lowest (0) to highest. Unknown timeframes rank -1.
func (tf Timeframe) Rank() int {
	for i, t := range timeframeOrder {
		if t == tf {
			return i
		}
	}
	return -1
}

func (tf Timeframe) String() string { return string(tf) }
