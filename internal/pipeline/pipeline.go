// Package pipeline runs the report stages in order against one store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/config"
	"github.com/DeafMist/intel-radar/backend/internal/critique"
	"github.com/DeafMist/intel-radar/backend/internal/events"
	"github.com/DeafMist/intel-radar/backend/internal/extract"
	"github.com/DeafMist/intel-radar/backend/internal/filter"
	"github.com/DeafMist/intel-radar/backend/internal/ingest"
	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/oracle"
	"github.com/DeafMist/intel-radar/backend/internal/status"
	"github.com/DeafMist/intel-radar/backend/internal/synth"
	"github.com/DeafMist/intel-radar/backend/internal/trends"
	"github.com/DeafMist/intel-radar/backend/internal/weighting"
)

// Step names reported to the status sink.
const (
	StepIngest      = "ingest"
	StepDedupFilter = "dedup_filter"
	StepExtract     = "extract"
	StepTrends      = "trends_contradictions"
	StepWeighting   = "source_weighting"
	StepSynthesis   = "synthesis"
)

// Store is everything the stages read and write.
type Store interface {
	ingest.Store
	filter.Store
	extract.Store
	trends.Store
	synth.Store
	CountRawDocuments(ctx context.Context) (int, error)
	Extractions(ctx context.Context) ([]models.Extraction, error)
	ResetExtractions(ctx context.Context) (int64, error)
}

// Indexer mirrors processed documents into the search index.
type Indexer interface {
	IndexProcessed(ctx context.Context, docs []models.ProcessedDocument, keywordLimit, keywordMinLen int) (int, error)
}

// RunContext carries the collaborators of one run. Nothing is read from globals.
type RunContext struct {
	Config  *config.Pipeline
	Store   Store
	Oracle  oracle.Oracle
	Sources []ingest.Source
	Status  status.Sink
	Log     *slog.Logger
	Now     func() time.Time

	// Optional downstream sinks; nil disables them.
	Search    Indexer
	Publisher events.Publisher
}

// Options change a single run.
type Options struct {
	// ResetExtractions clears previous extraction rows before the extract stage.
	ResetExtractions bool
	// SkipIngest runs the remaining stages on what is already stored.
	SkipIngest bool
}

// Result is the outcome of a successful run.
type Result struct {
	RunID        string
	Report       models.Report
	MarkdownPath string
	JSONPath     string
}

// Runner executes the stages strictly in sequence.
type Runner struct {
	rc   RunContext
	opts Options
}

// NewRunner fills defaults for the optional RunContext fields.
func NewRunner(rc RunContext, opts Options) (*Runner, error) {
	if rc.Config == nil {
		return nil, errors.New("pipeline config is required")
	}
	if rc.Store == nil {
		return nil, errors.New("pipeline store is required")
	}
	if rc.Oracle == nil {
		rc.Oracle = oracle.Null{}
	}
	if rc.Status == nil {
		rc.Status = status.Nop{}
	}
	if rc.Publisher == nil {
		rc.Publisher = events.Nop{}
	}
	if rc.Now == nil {
		rc.Now = time.Now
	}
	rc.Log = logger.OrDiscard(rc.Log)
	return &Runner{rc: rc, opts: opts}, nil
}

// Run executes every stage. The first stage error aborts the run; rows already
// committed stay in the store and the status sink records the failure.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	runID := r.rc.Status.StartRun()
	r.rc.Log.Info("pipeline started", slog.String("run_id", runID), slog.String("topic", r.rc.Config.Topic))

	res, err := r.run(ctx)
	res.RunID = runID
	r.rc.Status.EndRun(err)
	if err != nil {
		return res, err
	}

	r.mirror(ctx, res.Report)
	return res, nil
}

func (r *Runner) run(ctx context.Context) (Result, error) {
	cfg := r.rc.Config
	st := r.rc.Store
	log := r.rc.Log

	if !r.opts.SkipIngest {
		err := r.step(StepIngest, func() (map[string]any, error) {
			inserted, err := ingest.New(st, r.rc.Sources, log).Run(ctx, cfg.Topic, cfg.MaxDocsPerRun)
			if err != nil {
				return nil, err
			}
			total, err := st.CountRawDocuments(ctx)
			if err != nil {
				return nil, fmt.Errorf("count raw documents: %w", err)
			}
			return map[string]any{"inserted": inserted, "raw_docs": total}, nil
		})
		if err != nil {
			return Result{}, err
		}
	}

	err := r.step(StepDedupFilter, func() (map[string]any, error) {
		n, err := filter.NewStage(st, log).Run(ctx, r.rc.Now(), cfg.TimeWindowDays)
		return map[string]any{"processed_docs": n}, err
	})
	if err != nil {
		return Result{}, err
	}

	var docs []models.ProcessedDocument
	err = r.step(StepExtract, func() (map[string]any, error) {
		counts := map[string]any{}
		if r.opts.ResetExtractions {
			removed, err := st.ResetExtractions(ctx)
			if err != nil {
				return nil, fmt.Errorf("reset extractions: %w", err)
			}
			counts["reset"] = removed
		}
		var err error
		docs, err = st.ProcessedDocuments(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("load processed documents: %w", err)
		}
		ex := extract.New(r.rc.Oracle, st, log, extract.Options{
			Concurrency:   cfg.ExtractConcurrency,
			TrackProgress: cfg.TrackProgress,
		})
		n, err := ex.Run(ctx, docs, cfg.Topic, cfg.EffectiveExtractLimit())
		counts["extractions"] = n
		return counts, err
	})
	if err != nil {
		return Result{}, err
	}

	var (
		extractions    []models.Extraction
		summary        models.TrendSummary
		contradictions []models.Contradiction
	)
	err = r.step(StepTrends, func() (map[string]any, error) {
		var err error
		extractions, err = st.Extractions(ctx)
		if err != nil {
			return nil, fmt.Errorf("load extractions: %w", err)
		}
		summary, contradictions, err = trends.NewEngine(r.rc.Oracle, st, log).
			Aggregate(ctx, cfg.Topic, docs, extractions, cfg.MaxContradictionPairs)
		return map[string]any{"contradictions": len(contradictions)}, err
	})
	if err != nil {
		return Result{}, err
	}

	var weights models.WeightingResult
	err = r.step(StepWeighting, func() (map[string]any, error) {
		weights = weighting.Weigh(docs, extractions, contradictions)
		return map[string]any{"confidence": weights.WeightedConfidence}, nil
	})
	if err != nil {
		return Result{}, err
	}

	var report models.Report
	err = r.step(StepSynthesis, func() (map[string]any, error) {
		s := synth.New(st, r.rc.Oracle, critique.New(r.rc.Oracle, log), synth.Settings{
			Topic:       cfg.Topic,
			Description: cfg.TopicDescription,
			Sections:    cfg.Sections,
		}, log).WithClock(r.rc.Now)
		var err error
		report, err = s.Synthesize(ctx, summary, contradictions, weights, cfg.MaxContextDocs)
		return map[string]any{"confidence": report.Confidence, "report_id": report.ID}, err
	})
	if err != nil {
		return Result{}, err
	}

	mdPath, jsonPath, err := WriteSamples(cfg.SamplesDir, report, r.rc.Now())
	if err != nil {
		return Result{Report: report}, err
	}
	log.Info("report written",
		slog.String("markdown", mdPath),
		slog.Float64("confidence", report.Confidence))

	return Result{Report: report, MarkdownPath: mdPath, JSONPath: jsonPath}, nil
}

func (r *Runner) step(name string, fn func() (map[string]any, error)) error {
	r.rc.Status.StartStep(name)
	counts, err := fn()
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	r.rc.Status.EndStep(name, counts)
	return nil
}

// mirror feeds the optional downstream sinks. Their failures are logged only.
func (r *Runner) mirror(ctx context.Context, report models.Report) {
	cfg := r.rc.Config
	if r.rc.Search != nil {
		docs, err := r.rc.Store.ProcessedDocuments(ctx, 0)
		if err == nil {
			var n int
			n, err = r.rc.Search.IndexProcessed(ctx, docs, cfg.KeywordLimit, cfg.KeywordMinLength)
			r.rc.Log.Info("search mirror updated", slog.Int("indexed", n))
		}
		if err != nil {
			r.rc.Log.Warn("search mirror failed", slog.Any("err", err))
		}
	}

	if err := r.rc.Publisher.PublishReport(ctx, events.NewReportEvent(report)); err != nil {
		r.rc.Log.Warn("report event not published", slog.Any("err", err))
	}
}
