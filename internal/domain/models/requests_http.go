package models

// Requests for engine HTTP endpoints. Defined in domain for consistency and reuse.

type AnalyzeRequest struct {
	Symbol string              `json:"symbol" validate:"required"`
	Series map[string][]Candle `json:"series" validate:"required,min=1"`
	DryRun bool                `json:"dry_run"`
}

type StoredAnalyzeRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	N      int    `query:"n" json:"n" default:"300" validate:"gte=10,lte=5000"`
}

type SimilarRequest struct {
	Type      string  `query:"type" json:"type" validate:"required,oneof=STRUCTURE_BREAK CHARACTER_CHANGE IMBALANCE_ZONE GAP_ZONE"`
	Symbol    string  `query:"symbol" json:"symbol" validate:"required"`
	TF        string  `query:"tf" json:"tf" default:"1h" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	Direction string  `query:"direction" json:"direction" validate:"required,oneof=BULLISH BEARISH"`
	Level     float64 `query:"level" json:"level" validate:"gt=0"`
	Tolerance float64 `query:"tolerance" json:"tolerance" default:"0" validate:"gte=0"`
}

type ResolveRequest struct {
	ID      string  `json:"id" validate:"required,uuid"`
	Outcome string  `json:"outcome" validate:"required,oneof=SUCCESS FAILURE"`
	Pips    float64 `json:"pips"`
}
