package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/intel-radar/backend/internal/config"
	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/search"
	"github.com/DeafMist/intel-radar/backend/internal/store"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	srv := &server{log: log, cfg: cfg, store: st}
	if cfg.ElasticsearchAddr != "" {
		esClient, err := search.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			log.Error("init elasticsearch", slog.Any("err", err))
			os.Exit(1)
		}
		srv.search = esClient
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("api server starting",
			slog.String("addr", cfg.BindAddr),
			slog.Bool("search", srv.search != nil))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type reportStore interface {
	Ping(ctx context.Context) error
	LatestReport(ctx context.Context) (models.Report, error)
	Contradictions(ctx context.Context, limit int) ([]models.Contradiction, error)
	ProcessedDocuments(ctx context.Context, limit int) ([]models.ProcessedDocument, error)
}

type searcher interface {
	Health(ctx context.Context) error
	SearchDocuments(ctx context.Context, params search.Params) (*search.Result, error)
}

type server struct {
	log    *slog.Logger
	cfg    *config.API
	store  reportStore
	search searcher // nil when no Elasticsearch is configured
}

type errorResponse struct {
	Error string `json:"error"`
}

type reportResponse struct {
	ID          int64                `json:"id"`
	Confidence  float64              `json:"confidence"`
	GeneratedAt time.Time            `json:"generated_at"`
	Payload     models.ReportPayload `json:"payload"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/reports/latest", func(r chi.Router) {
		r.Get("/", s.handleLatestReport)
		r.Get("/narrative", s.handleLatestNarrative)
	})
	r.Get("/contradictions", s.handleContradictions)
	r.Get("/documents", s.handleDocuments)
	r.Get("/search", s.handleSearch)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	searchState := "disabled"
	if s.search != nil {
		searchState = "ok"
		if err := s.search.Health(ctx); err != nil {
			s.log.Warn("search health check failed", slog.Any("err", err))
			searchState = "unavailable"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "search": searchState})
}

func (s *server) latestReport(w http.ResponseWriter, r *http.Request) (models.Report, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report, err := s.store.LatestReport(ctx)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no report yet"})
		return report, false
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return report, false
	}
	return report, true
}

func (s *server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	report, ok := s.latestReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{
		ID:          report.ID,
		Confidence:  report.Confidence,
		GeneratedAt: report.GeneratedAt,
		Payload:     report.Payload,
	})
}

func (s *server) handleLatestNarrative(w http.ResponseWriter, r *http.Request) {
	report, ok := s.latestReport(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(report.Narrative))
}

func (s *server) handleContradictions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	limit := clampInt(r.URL.Query().Get("limit"), s.cfg.DefaultPage, s.cfg.MaxPage)
	items, err := s.store.Contradictions(ctx, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	limit := clampInt(r.URL.Query().Get("limit"), s.cfg.DefaultPage, s.cfg.MaxPage)
	items, err := s.store.ProcessedDocuments(ctx, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "search is not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := search.Params{
		Query:    strings.TrimSpace(q.Get("q")),
		Keywords: parseCSV(q.Get("keywords")),
		Source:   strings.TrimSpace(q.Get("source")),
		MinTier:  clampInt(q.Get("min_tier"), 0, 3),
		From:     clampInt(q.Get("from"), 0, 10_000),
		Size:     clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Sort:     strings.TrimSpace(q.Get("sort")),
		Start:    parseTime(q.Get("start")),
		End:      parseTime(q.Get("end")),
	}

	result, err := s.search.SearchDocuments(ctx, params)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
