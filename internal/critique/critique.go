// Package critique asks the oracle to review a drafted report and blends its
// confidence with the rule-based estimate.
package critique

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/oracle"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
	"github.com/DeafMist/intel-radar/backend/internal/weighting"
)

const (
	SkippedMessage     = "Self-critique skipped (no oracle available)."
	ParseFailedMessage = "Self-critique parse failed."
	NoCritiqueMessage  = "No critique provided."

	// InitialWeight is the share of the rule-based confidence in the blend.
	InitialWeight = 0.6
	OracleWeight  = 0.4

	maxSectionExcerpt = 1500
	maxDraftExcerpt   = 6000
	temperature       = 0.2
)

// NamedSection is a drafted section in report order.
type NamedSection struct {
	Name    string
	Content string
}

// Critic runs the self-critique.
type Critic struct {
	oracle oracle.Oracle
	log    *slog.Logger
}

// New creates a Critic.
func New(o oracle.Oracle, log *slog.Logger) *Critic {
	return &Critic{oracle: o, log: logger.OrDiscard(log)}
}

// Critique returns the blended confidence and the critique text. It never fails: when
// the oracle is unavailable or its answer cannot be parsed, initial is returned unchanged.
func (c *Critic) Critique(ctx context.Context, sections []NamedSection, topic string, initial float64) (float64, string) {
	if !c.oracle.Available() {
		return initial, SkippedMessage
	}

	prompt := fmt.Sprintf(`Topic: %s
Draft report:
---
%s
---
Review: missing evidence, overclaiming, contradictions. Respond with ONLY JSON: {"confidence": 0.7, "critique": "one short paragraph"}`,
		topic, Excerpt(sections))

	res := c.oracle.CompleteJSON(ctx, prompt, temperature)
	switch res.Status {
	case oracle.StatusOK:
	case oracle.StatusMalformed:
		c.log.Warn("self-critique returned unparsable output", slog.Any("err", res.Err))
		return initial, ParseFailedMessage
	default:
		c.log.Warn("self-critique unavailable", slog.Any("err", res.Err))
		return initial, SkippedMessage
	}

	suggested := initial
	if raw, ok := res.Value["confidence"]; ok && raw != nil {
		v, ok := toFloat(raw)
		if !ok {
			return initial, ParseFailedMessage
		}
		suggested = v
	}

	text := NoCritiqueMessage
	if s, ok := res.Value["critique"].(string); ok && strings.TrimSpace(s) != "" {
		text = strings.TrimSpace(s)
	}
	return Blend(initial, suggested), text
}

// Blend mixes the rule-based confidence with the oracle suggestion, which is clamped first.
func Blend(initial, suggested float64) float64 {
	return weighting.Round2(InitialWeight*initial + OracleWeight*weighting.Clamp(suggested))
}

// Excerpt renders the sections the oracle reviews, each capped, the whole capped again.
func Excerpt(sections []NamedSection) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, "## "+s.Name+"\n"+processing.Truncate(s.Content, maxSectionExcerpt))
	}
	return processing.Truncate(strings.Join(parts, "\n\n"), maxDraftExcerpt)
}

// toFloat accepts JSON numbers and numeric strings. NaN and infinities are rejected.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
