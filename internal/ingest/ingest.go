// Package ingest collects raw documents from external sources into the document store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/config"
	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
)

// MaxBodyLength caps collected bodies, in characters.
const MaxBodyLength = 50_000

const userAgent = "intel-radar/1.0"

// Query is what a source searches for. Keyword is the short form used for
// substring filtering; Topic is the full topic for search APIs.
type Query struct {
	Topic   string
	Keyword string
}

// NewQuery derives a Query from a topic. The keyword is the topic's first word.
func NewQuery(topic string) Query {
	q := Query{Topic: strings.TrimSpace(topic)}
	if fields := strings.Fields(q.Topic); len(fields) > 0 {
		q.Keyword = fields[0]
	}
	return q
}

// Matches reports whether text contains the keyword, ignoring case. An empty keyword matches everything.
func (q Query) Matches(text string) bool {
	if q.Keyword == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(q.Keyword))
}

// Source fetches raw documents for a query.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query) ([]models.RawDocument, error)
}

// Store is the subset of the document store used by the Ingester.
type Store interface {
	InsertRawDocument(ctx context.Context, doc models.RawDocument) (int64, bool, error)
}

// Ingester runs every source in order and stores what they return.
type Ingester struct {
	store   Store
	sources []Source
	log     *slog.Logger
}

// New creates an Ingester over the given sources.
func New(st Store, sources []Source, log *slog.Logger) *Ingester {
	return &Ingester{store: st, sources: sources, log: logger.OrDiscard(log)}
}

// Run fetches from each source and inserts the documents, ignoring URLs already
// stored. A source that fails is logged and skipped. maxDocs > 0 caps the number
// of newly inserted documents. It returns the number of new rows.
func (i *Ingester) Run(ctx context.Context, topic string, maxDocs int) (int, error) {
	q := NewQuery(topic)
	inserted := 0
	for _, src := range i.sources {
		if maxDocs > 0 && inserted >= maxDocs {
			break
		}
		docs, err := src.Fetch(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return inserted, ctx.Err()
			}
			i.log.Warn("source failed", slog.String("source", src.Name()), slog.Any("err", err))
			continue
		}

		added := 0
		for _, doc := range docs {
			if maxDocs > 0 && inserted >= maxDocs {
				break
			}
			if doc.URL == "" {
				continue
			}
			_, isNew, err := i.store.InsertRawDocument(ctx, doc)
			if err != nil {
				return inserted, fmt.Errorf("store %s document: %w", src.Name(), err)
			}
			if isNew {
				inserted++
				added++
			}
		}
		i.log.Info("source ingested",
			slog.String("source", src.Name()),
			slog.Int("fetched", len(docs)),
			slog.Int("inserted", added))
	}
	return inserted, nil
}

// Sources builds the enabled sources from configuration, in collection order.
func Sources(cfg config.Sources, log *slog.Logger) []Source {
	client := &http.Client{Timeout: cfg.FetchTimeout}
	var out []Source
	if cfg.HackerNews {
		out = append(out, NewHackerNews(cfg.HNBaseURL, cfg.HNLimit, cfg.HNRequestInterval, client, log))
	}
	if len(cfg.RSSFeeds) > 0 {
		out = append(out, NewFeeds(cfg.RSSFeeds, cfg.FeedLimit, client, log))
	}
	if cfg.NewsAPI {
		out = append(out, NewNewsAPI(cfg.NewsAPIURL, cfg.NewsAPIKey, cfg.NewsAPILimit, client, log))
	}
	return out
}

func buildBody(title, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return processing.Truncate(title, MaxBodyLength)
	}
	return processing.Truncate(title+"\n\n"+text, MaxBodyLength)
}

func formatPublished(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var errNullItem = errors.New("empty item")

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "null" {
		return errNullItem
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
