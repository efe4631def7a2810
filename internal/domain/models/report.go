package models

import "time"

// AnalysisReport is the consolidated result of one symbol analysis.
type AnalysisReport struct {
	Symbol    string                      `json:"symbol"`
	Timestamp time.Time                   `json:"timestamp"`
	Signal    *Signal                     `json:"signal,omitempty"`
	Emitted   bool                        `json:"emitted"`
	Scores    []ConfluenceScore           `json:"scores,omitempty"`
	Events    map[Timeframe][]ScoredEvent `json:"events"`
	Skipped   map[Timeframe][]string      `json:"skipped,omitempty"`
	Errors    map[string]string           `json:"errors,omitempty"`
	Degraded  bool                        `json:"memory_degraded"`
	Resolved  int                         `json:"resolved_outcomes"`
}
