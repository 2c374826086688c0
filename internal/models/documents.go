package models

import "time"

// SourceType identifies where a raw document was collected from.
type SourceType string

const (
	SourceFeed       SourceType = "feed"
	SourceAggregator SourceType = "aggregator"
	SourceNewsAPI    SourceType = "news_api"
)

// RawDocument is an ingested document exactly as collected. URL is its identity.
type RawDocument struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	SourceType  SourceType `json:"source_type"`
	PublishedAt string     `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
}

// ProcessedDocument is a raw document that survived filtering, with its trust tier.
type ProcessedDocument struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	SourceType  SourceType `json:"source_type"`
	SourceTier  int        `json:"source_tier"`
	PublishedAt string     `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
}

// Extraction holds the structured signals pulled out of one processed document.
type Extraction struct {
	ID         int64     `json:"id"`
	DocID      int64     `json:"doc_id"`
	Entities   []string  `json:"entities"`
	Events     []string  `json:"events"`
	SignalTags []string  `json:"signal_tags"`
	CreatedAt  time.Time `json:"created_at"`
}

// Contradiction is a pair of documents judged to assert conflicting facts.
// DocIDA is always lower than DocIDB.
type Contradiction struct {
	ID        int64     `json:"id"`
	Focus     string    `json:"focus"`
	DocIDA    int64     `json:"doc_id_a"`
	DocIDB    int64     `json:"doc_id_b"`
	SnippetA  string    `json:"snippet_a"`
	SnippetB  string    `json:"snippet_b"`
	CreatedAt time.Time `json:"created_at"`
}
