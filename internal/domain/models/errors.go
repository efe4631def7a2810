package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData means a series is too short for a lookback. Callers skip the pass.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrValidation marks malformed input rejected at the ingestion boundary.
	ErrValidation = errors.New("validation error")
	// ErrMemoryUnavailable means the memory store timed out or could not be reached.
	ErrMemoryUnavailable = errors.New("memory unavailable")
	// ErrConfiguration marks invalid thresholds. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	ErrRecordNotFound     = errors.New("memory record not found")
	ErrAlreadyResolved    = errors.New("memory record already resolved")
	ErrInvalidOutcome     = errors.New("invalid outcome")
	ErrInvalidTransition  = errors.New("invalid mitigation transition")
	ErrUnsupportedVersion = errors.New("unsupported snapshot schema version")
)

// ValidationError describes the first offending candle of a rejected series.
type ValidationError struct {
	Symbol    string
	Timeframe Timeframe
	Index     int
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s candle[%d]: %s", e.Symbol, e.Timeframe, e.Index, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientData builds an ErrInsufficientData with the observed and required lengths.
func InsufficientData(have, need int) error {
	return fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, have, need)
}

// ConfigError wraps a threshold problem as ErrConfiguration.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
