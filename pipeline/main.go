package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DeafMist/intel-radar/backend/internal/config"
	"github.com/DeafMist/intel-radar/backend/internal/events"
	"github.com/DeafMist/intel-radar/backend/internal/ingest"
	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/oracle"
	"github.com/DeafMist/intel-radar/backend/internal/pipeline"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
	"github.com/DeafMist/intel-radar/backend/internal/search"
	"github.com/DeafMist/intel-radar/backend/internal/status"
	"github.com/DeafMist/intel-radar/backend/internal/store"
)

const previewLength = 1200

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	log := logger.New("pipeline")
	if err := newRootCmd(log).ExecuteContext(ctx); err != nil {
		log.Error("pipeline failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func newRootCmd(log *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Build market intelligence reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(log), newReportCmd(), newStatusCmd())
	return root
}

func newRunCmd(log *slog.Logger) *cobra.Command {
	var opts pipeline.Options
	cmd := &cobra.Command{
		Use:   "run [topic...]",
		Short: "Run ingest, filtering, extraction, analysis and synthesis once",
		Long: `Run every stage for one topic and write samples/report_<stamp>.md and .json.

The topic comes from the arguments, else TOPIC, else the topic config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPipeline()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if topic := strings.TrimSpace(strings.Join(args, " ")); topic != "" {
				cfg.Topic = topic
			}
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), cfg, opts, log)
		},
	}
	cmd.Flags().BoolVar(&opts.ResetExtractions, "reset-extractions", false, "delete stored extractions before extracting")
	cmd.Flags().BoolVar(&opts.SkipIngest, "skip-ingest", false, "reuse stored raw documents instead of fetching")
	return cmd
}

func runPipeline(ctx context.Context, out io.Writer, cfg *config.Pipeline, opts pipeline.Options, log *slog.Logger) error {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	o, err := oracle.New(ctx, cfg.Oracle, log)
	if err != nil {
		return fmt.Errorf("init oracle: %w", err)
	}
	if !o.Available() {
		log.Warn("no oracle configured; extraction and synthesis fall back to placeholders",
			slog.String("provider", cfg.Oracle.Provider))
	}

	rc := pipeline.RunContext{
		Config:  cfg,
		Store:   st,
		Oracle:  o,
		Sources: ingest.Sources(cfg.Sources, log),
		Status:  status.NewFileSink(cfg.StatusFile, log),
		Log:     log,
	}

	if cfg.ElasticsearchAddr != "" {
		esClient, err := search.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			return fmt.Errorf("init elasticsearch: %w", err)
		}
		rc.Search = esClient
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafka(cfg.KafkaBrokers, cfg.ReportsTopic)
		defer pub.Close()
		rc.Publisher = pub
	}

	runner, err := pipeline.NewRunner(rc, opts)
	if err != nil {
		return err
	}
	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Report: %s  Confidence: %.2f\n\n--- Preview ---\n%s\n--- Done ---\n",
		res.MarkdownPath, res.Report.Confidence, processing.Truncate(res.Report.Narrative, previewLength))
	return nil
}

func newReportCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the latest stored report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Open(config.LoadPaths().DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			report, err := st.LatestReport(cmd.Context())
			if errors.Is(err, store.ErrNotFound) {
				return errors.New("no report stored yet; run `pipeline run` first")
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !asJSON {
				_, err = fmt.Fprintln(out, report.Narrative)
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report.Payload)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the structured payload instead of markdown")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status file of the current or last run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(config.LoadPaths().StatusFile)
			if err != nil {
				return fmt.Errorf("read status file: %w", err)
			}
			var snap status.Snapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				return fmt.Errorf("parse status file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: step=%s status=%s elapsed=%.1fs\n",
				snap.RunID, snap.Step, snap.Status, snap.ElapsedSec)
			if snap.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", snap.Error)
			}
			return nil
		},
	}
}
