package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DeafMist/intel-radar/backend/internal/config"
	"github.com/DeafMist/intel-radar/backend/internal/logger"
)

// New selects the Oracle for cfg once per run. Without an API key for the chosen
// provider the Null oracle is returned and every stage takes its fallback path.
func New(ctx context.Context, cfg config.Oracle, log *slog.Logger) (Oracle, error) {
	log = logger.OrDiscard(log)

	var backend Backend
	switch cfg.Provider {
	case "", "openai":
		if cfg.OpenAIKey == "" {
			log.Warn("OPENAI_API_KEY not set; oracle disabled, stages use fallbacks")
			return Null{}, nil
		}
		backend = NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, nil)
	case "gemini":
		if cfg.GeminiKey == "" {
			log.Warn("GEMINI_API_KEY not set; oracle disabled, stages use fallbacks")
			return Null{}, nil
		}
		g, err := NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("init gemini oracle: %w", err)
		}
		backend = g
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}

	log.Info("oracle configured", slog.String("backend", backend.Name()), slog.Duration("timeout", cfg.Timeout))
	return NewClient(backend, cfg.Timeout, cfg.RequestsPerMinute, log), nil
}
