// Package filter turns raw documents into the curated, time-windowed, tiered document set.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
)

// MaxBodyLength caps processed document bodies, in characters.
const MaxBodyLength = 100_000

// DefaultTier is assigned to source types missing from the tier table.
const DefaultTier = 1

var sourceTiers = map[models.SourceType]int{
	models.SourceFeed:       2,
	models.SourceNewsAPI:    2,
	models.SourceAggregator: 1,
	// Legacy collector names still present in older databases.
	"rss":    2,
	"hn":     1,
	"reddit": 1,
}

// Tier returns the trust tier of a source type.
func Tier(sourceType models.SourceType) int {
	if tier, ok := sourceTiers[sourceType]; ok {
		return tier
	}
	return DefaultTier
}

// Filter keeps the documents inside the recency window and assigns their tier.
// The effective timestamp is PublishedAt, else FetchedAt. A PublishedAt that is
// present but unparsable keeps the document.
func Filter(raw []models.RawDocument, now time.Time, windowDays int) []models.ProcessedDocument {
	cutoff := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	out := make([]models.ProcessedDocument, 0, len(raw))
	for _, doc := range raw {
		if stale(doc, cutoff) {
			continue
		}
		out = append(out, models.ProcessedDocument{
			ID:          doc.ID,
			URL:         doc.URL,
			Title:       doc.Title,
			Body:        processing.Truncate(doc.Body, MaxBodyLength),
			SourceType:  doc.SourceType,
			SourceTier:  Tier(doc.SourceType),
			PublishedAt: doc.PublishedAt,
			FetchedAt:   doc.FetchedAt,
		})
	}
	return out
}

func stale(doc models.RawDocument, cutoff time.Time) bool {
	if doc.PublishedAt == "" {
		return !doc.FetchedAt.IsZero() && doc.FetchedAt.Before(cutoff)
	}
	ts, ok := processing.ParseTimestamp(doc.PublishedAt)
	if !ok {
		return false
	}
	return ts.Before(cutoff)
}

// Store is the subset of the document store used by the stage.
type Store interface {
	RawDocuments(ctx context.Context) ([]models.RawDocument, error)
	UpsertProcessedDocument(ctx context.Context, doc models.ProcessedDocument) error
}

// Stage runs Filter against the store.
type Stage struct {
	store Store
	log   *slog.Logger
}

// NewStage creates a filter stage.
func NewStage(store Store, log *slog.Logger) *Stage {
	return &Stage{store: store, log: logger.OrDiscard(log)}
}

// Run filters every raw document and writes the survivors with replace semantics.
// It returns the number of processed documents written.
func (s *Stage) Run(ctx context.Context, now time.Time, windowDays int) (int, error) {
	raw, err := s.store.RawDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("load raw documents: %w", err)
	}

	processed := Filter(raw, now, windowDays)
	for i, doc := range processed {
		if err := s.store.UpsertProcessedDocument(ctx, doc); err != nil {
			return i, fmt.Errorf("write processed document: %w", err)
		}
	}

	s.log.Info("dedup & filter done",
		slog.Int("raw", len(raw)),
		slog.Int("processed", len(processed)),
		slog.Int("window_days", windowDays))
	return len(processed), nil
}
