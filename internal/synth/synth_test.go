package synth_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/critique"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/oracle"
	"github.com/DeafMist/intel-radar/backend/internal/synth"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	reports   []models.Report
	processed []models.ProcessedDocument
	insertErr error
}

func (s *memStore) ProcessedDocuments(_ context.Context, limit int) ([]models.ProcessedDocument, error) {
	if limit > 0 && limit < len(s.processed) {
		return s.processed[:limit], nil
	}
	return s.processed, nil
}

func (s *memStore) InsertReport(_ context.Context, r models.Report) (int64, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.reports = append(s.reports, r)
	return int64(len(s.reports)), nil
}

var fixedNow = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

func processed(n int) []models.ProcessedDocument {
	out := make([]models.ProcessedDocument, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, models.ProcessedDocument{
			ID:         int64(i),
			URL:        fmt.Sprintf("https://example.com/%d", i),
			Title:      fmt.Sprintf("Headline %d", i),
			Body:       strings.Repeat(fmt.Sprintf("body%d ", i), 100),
			SourceTier: 2,
		})
	}
	return out
}

func scripted(prompts *[]string) oracle.Oracle {
	return oracle.NewClient(oracle.BackendFunc(func(_ context.Context, prompt string, _ float64) (string, error) {
		*prompts = append(*prompts, prompt)
		if strings.Contains(prompt, "Draft report:") {
			return `{"confidence": 0.7, "critique": "Regulation coverage is thin."}`, nil
		}
		return "Acme expanded capacity [doc_id=1]. Prices fell [2, 99] and [doc_id=1] again. See [note].", nil
	}), time.Second, 0, nil)
}

func settings() synth.Settings {
	return synth.Settings{
		Topic:       "EV battery supply chain",
		Description: "Market, technical, and regulatory landscape.",
		Sections:    []string{"executive_summary", "risks", models.AppendixSection},
	}
}

func TestSynthesize(t *testing.T) {
	var prompts []string
	st := &memStore{processed: processed(3)}
	o := scripted(&prompts)
	s := synth.New(st, o, critique.New(o, nil), settings(), nil).WithClock(func() time.Time { return fixedNow })

	weighting := models.WeightingResult{WeightedConfidence: 0.35, SourceSummary: "3 sources (tiers: 1=1, 2=2); 1 contradictions.", TierBreakdown: map[int]int{1: 1, 2: 2}}
	contradictions := []models.Contradiction{{Focus: "Acme Corp", DocIDA: 1, DocIDB: 2, SnippetA: strings.Repeat("a", 500), SnippetB: "b"}}
	trends := models.TrendSummary{SignalCounts: map[string]int{"market": 3}, NumDocs: 3}

	report, err := s.Synthesize(context.Background(), trends, contradictions, weighting, 20)
	require.NoError(t, err)

	require.Equal(t, int64(1), report.ID)
	require.Equal(t, 0.49, report.Confidence)
	require.Equal(t, 0.49, report.Payload.Confidence)
	require.Equal(t, "Regulation coverage is thin.", report.Payload.Metadata.SelfCritique)
	require.Equal(t, 3, report.Payload.Metadata.NumSources)
	require.Equal(t, 1, report.Payload.Metadata.NumContradictions)
	require.Equal(t, weighting, report.Payload.Metadata.SourceWeighting)

	require.Len(t, report.Payload.Sections, 3)
	require.Equal(t, []int64{1, 2}, report.Payload.Sections["executive_summary"].Citations)
	require.Equal(t, []int64{1, 2, 3}, report.Payload.Sections[models.AppendixSection].Citations)

	require.Len(t, report.Payload.Citations, 3)
	require.Equal(t, "https://example.com/1", report.Payload.Citations[0].URL)
	require.Len(t, report.Payload.Citations[0].Snippet, 200)
	require.True(t, strings.HasPrefix(report.Payload.Citations[0].Snippet, "Headline 1 body1"))

	// Two sections plus one critique call.
	require.Len(t, prompts, 3)
	section := prompts[0]
	require.Contains(t, section, "Topic: EV battery supply chain. Description: Market, technical, and regulatory landscape.")
	require.Contains(t, section, "[doc_id=1]\nHeadline 1\n")
	require.Contains(t, section, "\n---\n[doc_id=2]")
	require.Contains(t, section, `Trends: {"signal_counts":{"market":3}`)
	require.Contains(t, section, "- Acme Corp: A: "+strings.Repeat("a", 200)+"... | B: b...")
	require.Contains(t, section, "3 sources (tiers: 1=1, 2=2); 1 contradictions.")
	require.Contains(t, section, `Write section "executive_summary"`)
	require.Contains(t, prompts[2], "## executive_summary\n")

	require.Len(t, st.reports, 1)
}

func TestSynthesizeNarrative(t *testing.T) {
	var prompts []string
	st := &memStore{processed: processed(2)}
	o := scripted(&prompts)
	s := synth.New(st, o, critique.New(o, nil), settings(), nil).WithClock(func() time.Time { return fixedNow })

	report, err := s.Synthesize(context.Background(), models.TrendSummary{}, nil,
		models.WeightingResult{WeightedConfidence: 0.6, SourceSummary: "2 sources"}, 20)
	require.NoError(t, err)

	lines := strings.Split(report.Narrative, "\n")
	require.Equal(t, "# EV battery supply chain", lines[0])
	require.Equal(t, "*2026-03-31T12:00:00Z*", lines[2])
	require.Equal(t, "**Confidence: 0.64**", lines[3])

	exec := strings.Index(report.Narrative, "## Executive Summary\n\n")
	risks := strings.Index(report.Narrative, "## Risks\n\n")
	appendix := strings.Index(report.Narrative, "## Appendix Citations\n\n- [1] https://example.com/1\n  Headline 1")
	require.Positive(t, exec)
	require.Greater(t, risks, exec)
	require.Greater(t, appendix, risks)
	require.True(t, strings.HasSuffix(report.Narrative, "\n---\n**Self-critique:** Regulation coverage is thin."))
}

func TestSynthesizeWithoutOracle(t *testing.T) {
	st := &memStore{processed: processed(2)}
	s := synth.New(st, oracle.Null{}, critique.New(oracle.Null{}, nil), settings(), nil)

	report, err := s.Synthesize(context.Background(), models.TrendSummary{}, nil,
		models.WeightingResult{WeightedConfidence: 0.6}, 20)
	require.NoError(t, err)

	require.Equal(t, 0.6, report.Confidence)
	require.Equal(t, "[Section 'risks' skipped: no oracle output]", report.Payload.Sections["risks"].Content)
	require.Empty(t, report.Payload.Sections["risks"].Citations)
	require.Equal(t, critique.SkippedMessage, report.Payload.Metadata.SelfCritique)
}

func TestSynthesizeLimitsEvidence(t *testing.T) {
	var prompts []string
	st := &memStore{processed: processed(30)}
	o := scripted(&prompts)
	s := synth.New(st, o, critique.New(o, nil), settings(), nil)

	report, err := s.Synthesize(context.Background(), models.TrendSummary{}, nil, models.WeightingResult{WeightedConfidence: 0.6}, 5)
	require.NoError(t, err)
	require.Len(t, report.Payload.Citations, 5)
	require.Equal(t, 30, report.Payload.Metadata.NumSources)
	require.NotContains(t, prompts[0], "[doc_id=6]")
}

func TestSynthesizeStoreFailure(t *testing.T) {
	st := &memStore{processed: processed(1), insertErr: errors.New("readonly database")}
	s := synth.New(st, oracle.Null{}, critique.New(oracle.Null{}, nil), settings(), nil)

	_, err := s.Synthesize(context.Background(), models.TrendSummary{}, nil, models.WeightingResult{}, 20)
	require.ErrorContains(t, err, "readonly database")
}
