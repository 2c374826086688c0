// Package trends aggregates extraction signals and discovers contradicting document pairs.
package trends

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/oracle"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
)

const (
	// CompareWindow is how many following documents (by id) each document is compared with.
	CompareWindow = 5

	TopEntityLimit   = 25
	EventSampleLimit = 30
	MaxFocusLength   = 200
	MaxSnippetLength = 2000

	excerptBodyLength = 1200
	promptSnippetLen  = 1500
)

// Summarize tallies signal tags and entities over all extractions.
// Entities are compared case-sensitively; ties in the leaderboard keep first-seen order.
func Summarize(docs []models.ProcessedDocument, extractions []models.Extraction) models.TrendSummary {
	summary := models.TrendSummary{
		SignalCounts: make(map[string]int),
		TopEntities:  []models.EntityCount{},
		EventsSample: []string{},
		NumDocs:      len(docs),
	}

	counts := make(map[string]int)
	var order []string
	for _, ex := range extractions {
		for _, tag := range ex.SignalTags {
			summary.SignalCounts[tag]++
		}
		for _, entity := range ex.Entities {
			if _, ok := counts[entity]; !ok {
				order = append(order, entity)
			}
			counts[entity]++
		}
		for _, event := range ex.Events {
			if len(summary.EventsSample) < EventSampleLimit {
				summary.EventsSample = append(summary.EventsSample, event)
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > TopEntityLimit {
		order = order[:TopEntityLimit]
	}
	for _, entity := range order {
		summary.TopEntities = append(summary.TopEntities, models.EntityCount{Entity: entity, Count: counts[entity]})
	}
	return summary
}

// Store persists discovered contradictions.
type Store interface {
	InsertContradiction(ctx context.Context, c models.Contradiction) (int64, error)
}

// Engine runs the trend and contradiction stage.
type Engine struct {
	oracle oracle.Oracle
	store  Store
	log    *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(o oracle.Oracle, st Store, log *slog.Logger) *Engine {
	return &Engine{oracle: o, store: st, log: logger.OrDiscard(log), now: time.Now}
}

// Aggregate returns the trend summary and the contradictions found, at most maxPairs of them.
func (e *Engine) Aggregate(
	ctx context.Context,
	topic string,
	docs []models.ProcessedDocument,
	extractions []models.Extraction,
	maxPairs int,
) (models.TrendSummary, []models.Contradiction, error) {
	summary := Summarize(docs, extractions)
	found, err := e.FindContradictions(ctx, topic, docs, extractions, maxPairs)
	if err != nil {
		return summary, found, err
	}
	e.log.Info("trends & contradictions done",
		slog.Int("signals", len(summary.SignalCounts)),
		slog.Int("entities", len(summary.TopEntities)),
		slog.Int("contradictions", len(found)))
	return summary, found, nil
}

// FindContradictions compares each document with the next CompareWindow documents by id.
// A pair is checked only when the two documents share an entity, each unordered pair at
// most once, and the search stops as soon as maxPairs contradictions are recorded.
// Only store failures are returned as errors.
func (e *Engine) FindContradictions(
	ctx context.Context,
	topic string,
	docs []models.ProcessedDocument,
	extractions []models.Extraction,
	maxPairs int,
) ([]models.Contradiction, error) {
	ordered := slices.Clone(docs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	entities := entitiesByDoc(extractions)

	found := []models.Contradiction{}
	seen := make(map[[2]int64]struct{})

	for i, a := range ordered {
		if len(found) >= maxPairs {
			break
		}
		entitiesA := entities[a.ID]
		if len(entitiesA) == 0 {
			continue
		}

		end := min(i+1+CompareWindow, len(ordered))
		for _, b := range ordered[i+1 : end] {
			if len(found) >= maxPairs {
				break
			}
			if a.ID == b.ID {
				continue
			}
			pair := [2]int64{min(a.ID, b.ID), max(a.ID, b.ID)}
			if _, ok := seen[pair]; ok {
				continue
			}
			seen[pair] = struct{}{}

			shared := intersect(entitiesA, entities[b.ID])
			if len(shared) == 0 {
				continue
			}

			excerptA, excerptB := excerpt(a), excerpt(b)
			if !e.contradicts(ctx, topic, excerptA, excerptB) {
				continue
			}

			c := models.Contradiction{
				Focus:     processing.Truncate(strings.Join(shared, ", "), MaxFocusLength),
				DocIDA:    pair[0],
				DocIDB:    pair[1],
				SnippetA:  processing.Truncate(excerptA, MaxSnippetLength),
				SnippetB:  processing.Truncate(excerptB, MaxSnippetLength),
				CreatedAt: e.now(),
			}
			if a.ID > b.ID {
				c.SnippetA, c.SnippetB = c.SnippetB, c.SnippetA
			}
			id, err := e.store.InsertContradiction(ctx, c)
			if err != nil {
				return found, fmt.Errorf("store contradiction: %w", err)
			}
			c.ID = id
			found = append(found, c)
			e.log.Debug("contradiction found", slog.Int64("doc_a", c.DocIDA), slog.Int64("doc_b", c.DocIDB), slog.String("focus", c.Focus))
		}
	}
	return found, nil
}

func (e *Engine) contradicts(ctx context.Context, topic, snippetA, snippetB string) bool {
	if !e.oracle.Available() {
		return false
	}
	prompt := fmt.Sprintf(`Topic: %s
Snippet A: %s
Snippet B: %s
Do these CONTRADICT each other (different/opposing facts)? Answer only: YES or NO.`,
		topic, processing.Truncate(snippetA, promptSnippetLen), processing.Truncate(snippetB, promptSnippetLen))

	res := e.oracle.Complete(ctx, prompt, 0)
	if !res.OK() {
		return false
	}
	return strings.Contains(strings.ToUpper(res.Text), "YES")
}

// entitiesByDoc unions the entities of every extraction per document, keeping first-seen order.
func entitiesByDoc(extractions []models.Extraction) map[int64][]string {
	out := make(map[int64][]string)
	for _, ex := range extractions {
		for _, entity := range ex.Entities {
			if !slices.Contains(out[ex.DocID], entity) {
				out[ex.DocID] = append(out[ex.DocID], entity)
			}
		}
	}
	return out
}

func intersect(a, b []string) []string {
	var out []string
	for _, entity := range a {
		if slices.Contains(b, entity) {
			out = append(out, entity)
		}
	}
	return out
}

func excerpt(doc models.ProcessedDocument) string {
	return doc.Title + " " + processing.Truncate(doc.Body, excerptBodyLength)
}
