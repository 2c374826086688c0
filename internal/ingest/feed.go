package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
)

// FeedSource reads RSS and Atom feeds.
type FeedSource struct {
	feeds  []string
	limit  int
	parser *gofeed.Parser
	log    *slog.Logger
	now    func() time.Time
}

// NewFeeds creates a FeedSource. limit caps the matching entries taken from each feed; 0 means all.
func NewFeeds(feeds []string, limit int, client *http.Client, log *slog.Logger) *FeedSource {
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	return &FeedSource{
		feeds:  feeds,
		limit:  limit,
		parser: parser,
		log:    logger.OrDiscard(log),
		now:    time.Now,
	}
}

func (s *FeedSource) Name() string { return "feeds" }

// Fetch parses every feed. A feed that cannot be fetched is logged and skipped;
// an error is returned only when every feed failed.
func (s *FeedSource) Fetch(ctx context.Context, q Query) ([]models.RawDocument, error) {
	var (
		docs     []models.RawDocument
		failures int
		lastErr  error
	)
	for _, url := range s.feeds {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		feed, err := s.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			failures++
			lastErr = err
			s.log.Warn("feed fetch failed", slog.String("feed", url), slog.Any("err", err))
			continue
		}
		docs = append(docs, s.convert(feed, q)...)
	}
	if len(s.feeds) > 0 && failures == len(s.feeds) {
		return nil, fmt.Errorf("all %d feeds failed: %w", failures, lastErr)
	}
	return docs, nil
}

func (s *FeedSource) convert(feed *gofeed.Feed, q Query) []models.RawDocument {
	fetched := s.now().UTC()
	out := make([]models.RawDocument, 0, len(feed.Items))
	for _, item := range feed.Items {
		if s.limit > 0 && len(out) >= s.limit {
			break
		}
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		if !q.Matches(item.Title + " " + summary) {
			continue
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		out = append(out, models.RawDocument{
			URL:         item.Link,
			Title:       item.Title,
			Body:        buildBody(item.Title, processing.StripHTML(summary)),
			SourceType:  models.SourceFeed,
			PublishedAt: formatPublished(published),
			FetchedAt:   fetched,
		})
	}
	return out
}
