package models

import "time"

// ConfluenceScore is computed fresh per synthesis call.
type ConfluenceScore struct {
	Direction       Direction          `json:"direction"`
	TotalScore      float64            `json:"total_score"`
	ComponentScores map[string]float64 `json:"component_scores"`
	SampleCount     int                `json:"sample_count"`
	PatternTypes    []PatternType      `json:"pattern_types"`
}

// Signal is the terminal output handed to external consumers.
type Signal struct {
	Symbol             string    `json:"symbol"`
	Timeframe          Timeframe `json:"timeframe"`
	Direction          Direction `json:"direction"`
	EntryPrice         float64   `json:"entry_price"`
	TargetPrice        float64   `json:"target_price"`
	InvalidationPrice  float64   `json:"invalidation_price"`
	Confidence         float64   `json:"confidence"`
	ContributingEvents []string  `json:"contributing_events"`
	CreatedAt          time.Time `json:"created_at"`
}
