package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type PatternType string

const (
	StructureBreak  PatternType = "STRUCTURE_BREAK"
	CharacterChange PatternType = "CHARACTER_CHANGE"
	ImbalanceZone   PatternType = "IMBALANCE_ZONE"
	GapZone         PatternType = "GAP_ZONE"
)

// PatternTypes lists every detector output type in a stable order.
var PatternTypes = []PatternType{StructureBreak, CharacterChange, ImbalanceZone, GapZone}

type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
)

// Sign is +1 for bullish and -1 for bearish.
func (d Direction) Sign() float64 {
	if d == Bearish {
		return -1
	}
	return 1
}

func (d Direction) Opposite() Direction {
	if d == Bearish {
		return Bullish
	}
	return Bearish
}

func (d Direction) Valid() bool { return d == Bullish || d == Bearish }

type SwingKind string

const (
	SwingHigh SwingKind = "HIGH"
	SwingLow  SwingKind = "LOW"
)

// SwingPoint is a local extremum. Recomputed per analysis window.
type SwingPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Kind      SwingKind `json:"kind"`
	Index     int       `json:"index"`
}

// Zone is a price range with Low <= High.
type Zone struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

func (z Zone) Width() float64 { return z.High - z.Low }

// Metadata keys shared by detectors and the scorer.
const (
	MetaMitigationState = "mitigation_state"
	MetaVolumeRatio     = "volume_ratio"
	MetaBreakoutATR     = "breakout_atr"
	MetaZoneSizePips    = "zone_size_pips"
	MetaFillPercentage  = "fill_percentage"
	MetaAgeBars         = "age_bars"
	MetaImpulseATR      = "impulse_atr"
	MetaSwingSize       = "swing_size"
	MetaMemoryDegraded  = "memory_degraded"
	MetaMemorySamples   = "memory_samples"
	MetaBarIndex        = "bar_index"
)

// PatternEvent is a detected structural event. Fields are fixed once emitted
// except the mitigation state, which only moves through Mitigate.
type PatternEvent struct {
	ID          string          `json:"id"`
	Type        PatternType     `json:"pattern_type"`
	Direction   Direction       `json:"direction"`
	Symbol      string          `json:"symbol"`
	Timeframe   Timeframe       `json:"timeframe"`
	AnchorPrice float64         `json:"anchor_price"`
	Zone        *Zone           `json:"zone,omitempty"`
	DetectedAt  time.Time       `json:"detected_at"`
	Strength    float64         `json:"intrinsic_strength"`
	Mitigation  MitigationState `json:"-"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// NewPatternEvent builds an event with a deterministic id, so re-running detection
// over overlapping windows yields the same identity.
func NewPatternEvent(t PatternType, dir Direction, symbol string, tf Timeframe, anchor float64, at time.Time) *PatternEvent {
	return &PatternEvent{
		ID:          EventID(t, dir, symbol, tf, anchor, at),
		Type:        t,
		Direction:   dir,
		Symbol:      symbol,
		Timeframe:   tf,
		AnchorPrice: anchor,
		DetectedAt:  at,
		Metadata:    make(map[string]any),
	}
}

var eventNamespace = uuid.MustParse("6f1c7c1e-2f7d-4c4b-9a55-2b8f0c3e9d11")

// EventID derives a UUIDv5 from the identifying fields of an event.
func EventID(t PatternType, dir Direction, symbol string, tf Timeframe, anchor float64, at time.Time) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%s|%d", t, dir, symbol, tf,
		strconv.FormatFloat(anchor, 'f', -1, 64), at.UnixNano())
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}

// SetMeta records a detector fact on the event.
func (e *PatternEvent) SetMeta(key string, v any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = v
}

// MetaFloat reads a numeric metadata value.
func (e *PatternEvent) MetaFloat(key string) (float64, bool) {
	switch v := e.Metadata[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Active reports whether the event can still take part in confluence.
func (e *PatternEvent) Active() bool { return e.Mitigation != Invalidated }

// ScoredEvent pairs an event with its memory-adjusted confidence.
type ScoredEvent struct {
	Event      *PatternEvent `json:"event"`
	Confidence float64       `json:"confidence"`
}
