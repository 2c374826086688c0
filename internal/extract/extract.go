// Package extract pulls entities, events and signal tags out of processed documents.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/oracle"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
	"golang.org/x/sync/errgroup"
)

// SignalTags is the closed vocabulary of topic-relevance categories.
var SignalTags = []string{"market", "regulation", "technology", "risk", "opportunity"}

// DefaultTag is used when no valid tag survives validation.
const DefaultTag = "market"

const (
	MaxEntities   = 30
	MaxEvents     = 20
	MinTextLength = 50

	maxPromptText = 8000
	temperature   = 0.1
	progressEvery = 5
)

// Signals is the structured result for one document.
type Signals struct {
	Entities   []string
	Events     []string
	SignalTags []string
}

// Placeholder is the deterministic result used whenever the oracle cannot help.
func Placeholder() Signals {
	return Signals{Entities: []string{}, Events: []string{}, SignalTags: []string{DefaultTag}}
}

// Store persists extraction rows.
type Store interface {
	InsertExtraction(ctx context.Context, ex models.Extraction) (int64, error)
}

// Options tunes a run.
type Options struct {
	// Concurrency bounds in-flight documents. Values below 1 mean sequential.
	Concurrency int
	// TrackProgress logs a progress line every few documents.
	TrackProgress bool
}

// Extractor runs the extraction stage.
type Extractor struct {
	oracle oracle.Oracle
	store  Store
	log    *slog.Logger
	opts   Options
	now    func() time.Time
}

// New creates an Extractor.
func New(o oracle.Oracle, st Store, log *slog.Logger, opts Options) *Extractor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Extractor{oracle: o, store: st, log: logger.OrDiscard(log), opts: opts, now: time.Now}
}

// Extract returns the signals of one document. It never fails: any oracle problem
// yields Placeholder.
func (e *Extractor) Extract(ctx context.Context, doc models.ProcessedDocument, topic string) Signals {
	if !e.oracle.Available() {
		return Placeholder()
	}

	res := e.oracle.CompleteJSON(ctx, buildPrompt(documentText(doc), topic), temperature)
	if !res.OK() {
		e.log.Debug("extraction fell back to placeholder",
			slog.Int64("doc_id", doc.ID),
			slog.String("status", res.Status.String()),
			slog.Any("err", res.Err))
		return Placeholder()
	}
	return Validate(res.Value)
}

// Validate normalizes a raw oracle object into Signals.
func Validate(raw map[string]any) Signals {
	out := Signals{
		Entities: capList(stringList(raw["entities"]), MaxEntities),
		Events:   capList(stringList(raw["events"]), MaxEvents),
	}

	for _, tag := range stringList(raw["signal_tags"]) {
		if slices.Contains(SignalTags, tag) && !slices.Contains(out.SignalTags, tag) {
			out.SignalTags = append(out.SignalTags, tag)
		}
	}
	if len(out.SignalTags) == 0 {
		out.SignalTags = []string{DefaultTag}
	}
	return out
}

// Run extracts signals for the first maxDocs documents by ascending id (all when
// maxDocs <= 0), persists one extraction per processed document and returns the count.
// Documents with too little text are skipped. Store errors abort the run.
func (e *Extractor) Run(ctx context.Context, docs []models.ProcessedDocument, topic string, maxDocs int) (int, error) {
	batch := slices.Clone(docs)
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
	if maxDocs > 0 && len(batch) > maxDocs {
		batch = batch[:maxDocs]
	}

	var count atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for _, doc := range batch {
		if gctx.Err() != nil {
			break
		}
		if utf8.RuneCountInString(strings.TrimSpace(documentText(doc))) < MinTextLength {
			continue
		}
		g.Go(func() error {
			signals := e.Extract(gctx, doc, topic)
			_, err := e.store.InsertExtraction(gctx, models.Extraction{
				DocID:      doc.ID,
				Entities:   signals.Entities,
				Events:     signals.Events,
				SignalTags: signals.SignalTags,
				CreatedAt:  e.now(),
			})
			if err != nil {
				return fmt.Errorf("store extraction: %w", err)
			}
			n := count.Add(1)
			if e.opts.TrackProgress && n%progressEvery == 0 {
				e.log.Info("extract progress", slog.Int64("done", n), slog.Int("batch", len(batch)))
			}
			return nil
		})
	}

	err := g.Wait()
	done := int(count.Load())
	if err != nil {
		return done, err
	}
	e.log.Info("extraction done", slog.Int("extractions", done), slog.Int("batch", len(batch)))
	return done, nil
}

func documentText(doc models.ProcessedDocument) string {
	return doc.Title + "\n\n" + doc.Body
}

func buildPrompt(text, topic string) string {
	return fmt.Sprintf(`Analyze this text about %q and extract:
1. entities: list of companies, people, products, regulations, or geographies (e.g. ["OpenAI", "EU AI Act"])
2. events: list of "who did what, when" statements (e.g. ["EU passed AI Act in March 2024"])
3. signal_tags: one or more of [%s] (e.g. ["regulation", "risk"])

Text:
---
%s
---

Respond with ONLY a JSON object with keys: entities, events, signal_tags. Arrays only.`,
		topic, strings.Join(SignalTags, ", "), processing.Truncate(text, maxPromptText))
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func capList(items []string, max int) []string {
	if len(items) > max {
		return items[:max]
	}
	return items
}
