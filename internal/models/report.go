package models

import "time"

// AppendixSection is the section name reserved for the deterministic citation list.
const AppendixSection = "appendix_citations"

// EntityCount is one row of the entity leaderboard.
type EntityCount struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
}

// TrendSummary aggregates the signals of all extractions.
type TrendSummary struct {
	SignalCounts map[string]int `json:"signal_counts"`
	TopEntities  []EntityCount  `json:"top_entities"`
	EventsSample []string       `json:"events_sample"`
	NumDocs      int            `json:"num_docs"`
}

// WeightingResult is the rule-based confidence estimate derived from source tiers.
type WeightingResult struct {
	WeightedConfidence float64     `json:"weighted_confidence"`
	SourceSummary      string      `json:"source_summary"`
	TierBreakdown      map[int]int `json:"tier_breakdown"`
}

// Citation points at one evidence document.
type Citation struct {
	ID      int64  `json:"id"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Section is one rendered report section.
type Section struct {
	Content   string  `json:"content"`
	Citations []int64 `json:"citations"`
}

// ReportMetadata records how the report confidence was derived.
type ReportMetadata struct {
	SourceWeighting   WeightingResult `json:"source_weighting"`
	SelfCritique      string          `json:"self_critique"`
	NumSources        int             `json:"num_sources"`
	NumContradictions int             `json:"num_contradictions"`
}

// ReportPayload is the structured form of a report consumed downstream.
type ReportPayload struct {
	Topic       string             `json:"topic"`
	GeneratedAt time.Time          `json:"generated_at"`
	Sections    map[string]Section `json:"sections"`
	Citations   []Citation         `json:"citations"`
	Confidence  float64            `json:"confidence"`
	Metadata    ReportMetadata     `json:"metadata"`
}

// Report is a persisted synthesis result.
type Report struct {
	ID          int64         `json:"id"`
	Payload     ReportPayload `json:"payload"`
	Narrative   string        `json:"narrative"`
	Confidence  float64       `json:"confidence"`
	GeneratedAt time.Time     `json:"generated_at"`
}
