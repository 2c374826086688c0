package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
)

// NewsAPISource searches newsapi.org for the full topic.
type NewsAPISource struct {
	endpoint string
	apiKey   string
	limit    int
	client   *http.Client
	log      *slog.Logger
	now      func() time.Time
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
		Content     string `json:"content"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// NewNewsAPI creates a NewsAPISource. Without an API key Fetch returns nothing.
func NewNewsAPI(endpoint, apiKey string, limit int, client *http.Client, log *slog.Logger) *NewsAPISource {
	if client == nil {
		client = http.DefaultClient
	}
	return &NewsAPISource{
		endpoint: endpoint,
		apiKey:   apiKey,
		limit:    limit,
		client:   client,
		log:      logger.OrDiscard(log),
		now:      time.Now,
	}
}

func (s *NewsAPISource) Name() string { return "news_api" }

func (s *NewsAPISource) Fetch(ctx context.Context, q Query) ([]models.RawDocument, error) {
	if s.apiKey == "" {
		s.log.Info("NEWS_API_KEY not set; skipping news api")
		return nil, nil
	}
	topic := q.Topic
	if topic == "" {
		topic = "AI"
	}
	pageSize := s.limit
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	params := url.Values{}
	params.Set("q", topic)
	params.Set("apiKey", s.apiKey)
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("sortBy", "publishedAt")
	params.Set("language", "en")

	var resp newsAPIResponse
	if err := getJSON(ctx, s.client, s.endpoint+"?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("search news api: %w", err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("news api error: %s", resp.Message)
	}

	fetched := s.now().UTC()
	docs := make([]models.RawDocument, 0, len(resp.Articles))
	for _, art := range resp.Articles {
		if art.URL == "" {
			continue
		}
		text := processing.StripHTML(art.Description) + "\n\n" + processing.StripHTML(art.Content)
		docs = append(docs, models.RawDocument{
			URL:         art.URL,
			Title:       art.Title,
			Body:        buildBody(art.Title, text),
			SourceType:  models.SourceNewsAPI,
			PublishedAt: art.PublishedAt,
			FetchedAt:   fetched,
		})
	}
	return docs, nil
}
