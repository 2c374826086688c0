package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
)

const hnItemURL = "https://news.ycombinator.com/item?id=%d"

// HackerNewsSource reads top stories from the Hacker News Firebase API.
type HackerNewsSource struct {
	baseURL string
	limit   int
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
	now     func() time.Time
}

type hnItem struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
	Time  int64  `json:"time"`
}

// NewHackerNews creates a HackerNewsSource. interval spaces item requests; 0 disables the limit.
func NewHackerNews(baseURL string, limit int, interval time.Duration, client *http.Client, log *slog.Logger) *HackerNewsSource {
	every := rate.Inf
	if interval > 0 {
		every = rate.Every(interval)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HackerNewsSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		client:  client,
		limiter: rate.NewLimiter(every, 1),
		log:     logger.OrDiscard(log),
		now:     time.Now,
	}
}

func (s *HackerNewsSource) Name() string { return "hackernews" }

// Fetch reads the first limit top stories and keeps those whose title matches the keyword.
// Items that fail individually are skipped.
func (s *HackerNewsSource) Fetch(ctx context.Context, q Query) ([]models.RawDocument, error) {
	var ids []int64
	if err := getJSON(ctx, s.client, s.baseURL+"/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("fetch top stories: %w", err)
	}
	if s.limit > 0 && len(ids) > s.limit {
		ids = ids[:s.limit]
	}

	fetched := s.now().UTC()
	docs := make([]models.RawDocument, 0, len(ids))
	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return docs, err
		}
		var item hnItem
		err := getJSON(ctx, s.client, fmt.Sprintf("%s/item/%d.json", s.baseURL, id), &item)
		if err != nil {
			if ctx.Err() != nil {
				return docs, ctx.Err()
			}
			if !errors.Is(err, errNullItem) {
				s.log.Debug("hn item failed", slog.Int64("id", id), slog.Any("err", err))
			}
			continue
		}
		if !q.Matches(item.Title) {
			continue
		}
		url := item.URL
		if url == "" {
			url = fmt.Sprintf(hnItemURL, id)
		}
		var published *time.Time
		if item.Time > 0 {
			t := time.Unix(item.Time, 0)
			published = &t
		}
		docs = append(docs, models.RawDocument{
			URL:         url,
			Title:       item.Title,
			Body:        buildBody(item.Title, processing.StripHTML(item.Text)),
			SourceType:  models.SourceAggregator,
			PublishedAt: formatPublished(published),
			FetchedAt:   fetched,
		})
	}
	return docs, nil
}
