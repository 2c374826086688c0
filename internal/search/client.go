// Package search mirrors processed documents into Elasticsearch for full-text lookup.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
)

const (
	defaultSize = 20
	maxSize     = 200
)

// Document is the indexed form of a processed document.
type Document struct {
	DocID      int64             `json:"doc_id"`
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Text       string            `json:"text"`
	SourceType models.SourceType `json:"source_type"`
	SourceTier int               `json:"source_tier"`
	Keywords   []string          `json:"keywords"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewDocument converts a processed document. Timestamp is the publication time
// when it parses, otherwise the fetch time.
func NewDocument(doc models.ProcessedDocument, keywords []string) Document {
	ts := doc.FetchedAt
	if parsed, ok := processing.ParseTimestamp(doc.PublishedAt); ok {
		ts = parsed
	}
	if keywords == nil {
		keywords = []string{}
	}
	return Document{
		DocID:      doc.ID,
		URL:        doc.URL,
		Title:      doc.Title,
		Text:       doc.Body,
		SourceType: doc.SourceType,
		SourceTier: doc.SourceTier,
		Keywords:   keywords,
		Timestamp:  ts.UTC(),
	}
}

// Client wraps go-elasticsearch with the queries the mirror needs.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// Params narrow a search.
type Params struct {
	Query    string
	Keywords []string
	Source   string
	MinTier  int
	From     int
	Size     int
	Sort     string
	Start    *time.Time
	End      *time.Time
}

// Result bundles hits and the total count.
type Result struct {
	Total int64      `json:"total"`
	Items []Document `json:"items"`
}

// New instantiates the Elasticsearch client.
func New(addr, index string, log *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Client{es: es, index: index, log: logger.OrDiscard(log)}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	return decode(res, "ping", nil)
}

// IndexDocument writes a document, keyed by its store id.
func (c *Client) IndexDocument(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: strconv.FormatInt(doc.DocID, 10),
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	return decode(res, "index doc", nil)
}

// IndexProcessed indexes processed documents with their extracted keywords.
// It stops at the first failure and returns how many were indexed.
func (c *Client) IndexProcessed(ctx context.Context, docs []models.ProcessedDocument, keywordLimit, keywordMinLen int) (int, error) {
	for i, d := range docs {
		keywords := processing.ExtractKeywords(d.Title+" "+d.Body, keywordLimit, keywordMinLen)
		if err := c.IndexDocument(ctx, NewDocument(d, keywords)); err != nil {
			return i, fmt.Errorf("index document %d: %w", d.ID, err)
		}
	}
	c.log.Debug("search mirror updated", slog.Int("docs", len(docs)), slog.String("index", c.index))
	return len(docs), nil
}

// BuildQuery renders the search request body for params.
func BuildQuery(params Params) map[string]any {
	size := params.Size
	switch {
	case size <= 0:
		size = defaultSize
	case size > maxSize:
		size = maxSize
	}

	boolQuery := map[string]any{}
	if params.Query != "" {
		boolQuery["must"] = []map[string]any{{
			"multi_match": map[string]any{
				"query":  params.Query,
				"fields": []string{"title^2", "text"},
			},
		}}
	}
	if filters := filterClauses(params); len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(boolQuery) == 0 {
		boolQuery["must"] = []map[string]any{{"match_all": map[string]any{}}}
	}

	field, order := "timestamp", "desc"
	name, dir, _ := strings.Cut(params.Sort, ":")
	if name != "" {
		field = name
	}
	if dir != "" {
		order = dir
	}

	return map[string]any{
		"from":             max(params.From, 0),
		"size":             size,
		"track_total_hits": true,
		"query":            map[string]any{"bool": boolQuery},
		"sort":             []map[string]any{{field: map[string]any{"order": order}}},
	}
}

func filterClauses(params Params) []map[string]any {
	var filters []map[string]any
	if len(params.Keywords) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"keywords": params.Keywords}})
	}
	if params.Source != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"source_type": params.Source}})
	}
	if params.MinTier > 0 {
		filters = append(filters, rangeClause("source_tier", "gte", params.MinTier))
	}
	if params.Start != nil || params.End != nil {
		bounds := map[string]any{}
		if params.Start != nil {
			bounds["gte"] = params.Start.UTC().Format(time.RFC3339)
		}
		if params.End != nil {
			bounds["lte"] = params.End.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]any{"range": map[string]any{"timestamp": bounds}})
	}
	return filters
}

func rangeClause(field, op string, value any) map[string]any {
	return map[string]any{"range": map[string]any{field: map[string]any{op: value}}}
}

// SearchDocuments executes a bool query with optional filters.
func (c *Client) SearchDocuments(ctx context.Context, params Params) (*Result, error) {
	payload, err := json.Marshal(BuildQuery(params))
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := decode(res, "search", &parsed); err != nil {
		return nil, err
	}

	out := &Result{Total: parsed.Hits.Total.Value, Items: make([]Document, 0, len(parsed.Hits.Hits))}
	for _, hit := range parsed.Hits.Hits {
		out.Items = append(out.Items, hit.Source)
	}
	return out, nil
}

// DeleteOlderThan removes documents whose timestamp is older than maxAge.
// Batches repeat until one deletes fewer than batchSize documents.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	payload, err := json.Marshal(map[string]any{"query": rangeClause("timestamp", "lte", cutoff)})
	if err != nil {
		return 0, fmt.Errorf("marshal delete body: %w", err)
	}

	var total int64
	for {
		res, err := c.es.DeleteByQuery(
			[]string{c.index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
		)
		if err != nil {
			return total, fmt.Errorf("delete by query: %w", err)
		}

		var batch struct {
			Deleted int64 `json:"deleted"`
		}
		if err := decode(res, "delete by query", &batch); err != nil {
			return total, err
		}
		total += batch.Deleted
		if batch.Deleted < int64(batchSize) {
			return total, nil
		}
	}
}

// Health checks cluster health.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("cluster health: %w", err)
	}
	return decode(res, "cluster health", nil)
}

// decode closes res, turning an error status into an error carrying the body.
// A nil out skips decoding.
func decode(res *esapi.Response, op string, out any) error {
	defer res.Body.Close()
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s failed: %s: %s", op, res.Status(), strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
