// Package synth assembles the final report from the outputs of every earlier stage.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/critique"
	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/oracle"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	evidenceBodyLength   = 2000
	promptEvidenceLength = 12000
	promptTrendsLength   = 1500
	maxPromptContradicts = 5
	contradictionSnippet = 200
	citationSnippet      = 200
	appendixSnippet      = 150
	temperature          = 0.3
)

// Store is what the synthesizer reads and writes.
type Store interface {
	ProcessedDocuments(ctx context.Context, limit int) ([]models.ProcessedDocument, error)
	InsertReport(ctx context.Context, r models.Report) (int64, error)
}

// Settings describe the report being written.
type Settings struct {
	Topic       string
	Description string
	// Sections is the ordered section list; models.AppendixSection is rendered without the oracle.
	Sections []string
}

// Synthesizer drafts sections, runs the self-critique and persists the report.
type Synthesizer struct {
	store    Store
	oracle   oracle.Oracle
	critic   *critique.Critic
	settings Settings
	log      *slog.Logger
	now      func() time.Time
	title    cases.Caser
}

// New creates a Synthesizer.
func New(st Store, o oracle.Oracle, critic *critique.Critic, settings Settings, log *slog.Logger) *Synthesizer {
	return &Synthesizer{
		store:    st,
		oracle:   o,
		critic:   critic,
		settings: settings,
		log:      logger.OrDiscard(log),
		now:      time.Now,
		title:    cases.Title(language.English),
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Synthesizer) WithClock(now func() time.Time) *Synthesizer {
	s.now = now
	return s
}

// Synthesize builds, persists and returns the report. Oracle failures only degrade
// section text; store failures are returned.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	trends models.TrendSummary,
	contradictions []models.Contradiction,
	weighting models.WeightingResult,
	maxContextDocs int,
) (models.Report, error) {
	docs, err := s.store.ProcessedDocuments(ctx, 0)
	if err != nil {
		return models.Report{}, fmt.Errorf("load processed documents: %w", err)
	}
	evidenceDocs := docs
	if maxContextDocs > 0 && len(evidenceDocs) > maxContextDocs {
		evidenceDocs = evidenceDocs[:maxContextDocs]
	}

	evidence, citations := buildEvidence(evidenceDocs)
	evidenceIDs := make(map[int64]struct{}, len(citations))
	for _, c := range citations {
		evidenceIDs[c.ID] = struct{}{}
	}

	shared := sharedContext{
		evidence:       evidence,
		trends:         trendsJSON(trends),
		contradictions: contradictionLines(contradictions),
		weightingNote:  weighting.SourceSummary,
	}

	sections := make(map[string]models.Section, len(s.settings.Sections))
	var drafted []critique.NamedSection
	for _, name := range s.settings.Sections {
		if name == models.AppendixSection {
			continue
		}
		if _, done := sections[name]; done {
			continue
		}
		content := s.writeSection(ctx, name, shared)
		sections[name] = models.Section{Content: content, Citations: citedIDs(content, evidenceIDs)}
		drafted = append(drafted, critique.NamedSection{Name: name, Content: content})
	}

	confidence, critiqueText := s.critic.Critique(ctx, drafted, s.settings.Topic, weighting.WeightedConfidence)

	allIDs := make([]int64, 0, len(citations))
	for _, c := range citations {
		allIDs = append(allIDs, c.ID)
	}
	sections[models.AppendixSection] = models.Section{Content: appendix(citations), Citations: allIDs}

	generated := s.now().UTC()
	payload := models.ReportPayload{
		Topic:       s.settings.Topic,
		GeneratedAt: generated,
		Sections:    sections,
		Citations:   citations,
		Confidence:  confidence,
		Metadata: models.ReportMetadata{
			SourceWeighting:   weighting,
			SelfCritique:      critiqueText,
			NumSources:        len(docs),
			NumContradictions: len(contradictions),
		},
	}
	report := models.Report{
		Payload:     payload,
		Narrative:   s.render(payload),
		Confidence:  confidence,
		GeneratedAt: generated,
	}

	id, err := s.store.InsertReport(ctx, report)
	if err != nil {
		return models.Report{}, fmt.Errorf("store report: %w", err)
	}
	report.ID = id

	s.log.Info("report synthesized",
		slog.Int64("report_id", id),
		slog.Float64("confidence", confidence),
		slog.Int("sections", len(sections)),
		slog.Int("evidence_docs", len(evidenceDocs)))
	return report, nil
}

type sharedContext struct {
	evidence       string
	trends         string
	contradictions string
	weightingNote  string
}

func (s *Synthesizer) writeSection(ctx context.Context, name string, shared sharedContext) string {
	prompt := fmt.Sprintf(`Topic: %s. Description: %s
Evidence (cite with [doc_id]):
---
%s
---
Trends: %s
Contradictions: %s
%s
Write section %q in 2-4 paragraphs. Use ONLY the evidence. Cite every claim with [doc_id]. No invented sources.`,
		s.settings.Topic, s.settings.Description,
		processing.Truncate(shared.evidence, promptEvidenceLength),
		shared.trends, shared.contradictions, shared.weightingNote, name)

	res := s.oracle.Complete(ctx, prompt, temperature)
	if !res.OK() {
		s.log.Warn("section skipped", slog.String("section", name), slog.String("status", res.Status.String()))
		return fmt.Sprintf("[Section '%s' skipped: no oracle output]", name)
	}
	return res.Text
}

func buildEvidence(docs []models.ProcessedDocument) (string, []models.Citation) {
	parts := make([]string, 0, len(docs))
	citations := make([]models.Citation, 0, len(docs))
	for _, d := range docs {
		body := processing.Truncate(d.Body, evidenceBodyLength)
		parts = append(parts, fmt.Sprintf("[doc_id=%d]\n%s\n%s\n", d.ID, d.Title, body))
		citations = append(citations, models.Citation{
			ID:      d.ID,
			URL:     d.URL,
			Snippet: processing.Truncate(d.Title+" "+body, citationSnippet),
		})
	}
	return strings.Join(parts, "\n---\n"), citations
}

func trendsJSON(t models.TrendSummary) string {
	b, err := json.Marshal(t)
	if err != nil {
		return "{}"
	}
	return processing.Truncate(string(b), promptTrendsLength)
}

func contradictionLines(contradictions []models.Contradiction) string {
	if len(contradictions) == 0 {
		return "None."
	}
	n := min(len(contradictions), maxPromptContradicts)
	lines := make([]string, 0, n)
	for _, c := range contradictions[:n] {
		lines = append(lines, fmt.Sprintf("- %s: A: %s... | B: %s...",
			c.Focus,
			processing.Truncate(c.SnippetA, contradictionSnippet),
			processing.Truncate(c.SnippetB, contradictionSnippet)))
	}
	return strings.Join(lines, "\n")
}

func appendix(citations []models.Citation) string {
	lines := make([]string, 0, len(citations))
	for _, c := range citations {
		lines = append(lines, fmt.Sprintf("- [%d] %s\n  %s...", c.ID, c.URL, processing.Truncate(c.Snippet, appendixSnippet)))
	}
	return strings.Join(lines, "\n")
}

var (
	bracketGroup = regexp.MustCompile(`\[([^\[\]]+)\]`)
	citedGroup   = regexp.MustCompile(`^\s*(?:doc_id\s*[=:]?\s*)?\d+(?:\s*[,;]\s*(?:doc_id\s*[=:]?\s*)?\d+)*\s*$`)
	digits       = regexp.MustCompile(`\d+`)
)

// citedIDs returns the evidence ids referenced as [doc_id=N], [N] or [N, M], in first-cited order.
func citedIDs(content string, evidence map[int64]struct{}) []int64 {
	ids := []int64{}
	seen := make(map[int64]struct{})
	for _, m := range bracketGroup.FindAllStringSubmatch(content, -1) {
		if !citedGroup.MatchString(m[1]) {
			continue
		}
		for _, raw := range digits.FindAllString(m[1], -1) {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			if _, ok := evidence[id]; !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Synthesizer) render(p models.ReportPayload) string {
	lines := []string{
		"# " + p.Topic + "\n",
		"*" + p.GeneratedAt.Format(time.RFC3339) + "*",
		fmt.Sprintf("**Confidence: %.2f**\n", p.Confidence),
	}
	rendered := make(map[string]bool, len(s.settings.Sections))
	for _, name := range s.settings.Sections {
		section, ok := p.Sections[name]
		if !ok || rendered[name] {
			continue
		}
		rendered[name] = true
		lines = append(lines, fmt.Sprintf("## %s\n\n%s\n", s.heading(name), section.Content))
	}
	lines = append(lines, "\n---\n**Self-critique:** "+p.Metadata.SelfCritique)
	return strings.Join(lines, "\n")
}

func (s *Synthesizer) heading(name string) string {
	return s.title.String(strings.ReplaceAll(name, "_", " "))
}
