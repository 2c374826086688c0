// Package oracle wraps the text generation capability used by the reasoning stages.
//
// Calls never return Go errors to the stages. Every result carries a Status so the
// fallback taken by a caller is an explicit branch.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"golang.org/x/time/rate"
)

// Status classifies the outcome of an oracle call.
type Status int

const (
	StatusOK Status = iota
	// StatusUnavailable covers a missing client, transport failures, timeouts and empty answers.
	StatusUnavailable
	// StatusMalformed means the oracle answered but the content could not be parsed.
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	// ErrUnavailable is attached to results of an oracle with no configured backend.
	ErrUnavailable = errors.New("oracle not configured")
	// ErrEmptyResponse is attached when the backend answered with blank text.
	ErrEmptyResponse = errors.New("empty oracle response")
)

// TextResult is the outcome of a free-text completion.
type TextResult struct {
	Status Status
	Text   string
	Err    error
}

// OK reports whether the call produced text.
func (r TextResult) OK() bool { return r.Status == StatusOK }

// JSONResult is the outcome of a structured completion.
type JSONResult struct {
	Status Status
	Value  map[string]any
	Err    error
}

// OK reports whether the call produced a parsed object.
func (r JSONResult) OK() bool { return r.Status == StatusOK }

// Oracle is the capability consumed by extraction, contradiction checks, critique and synthesis.
type Oracle interface {
	Available() bool
	Complete(ctx context.Context, prompt string, temperature float64) TextResult
	CompleteJSON(ctx context.Context, prompt string, temperature float64) JSONResult
}

// Backend performs one raw generation call.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, prompt string, temperature float64) (string, error)

// Name implements Backend.
func (f BackendFunc) Name() string { return "func" }

// Generate implements Backend.
func (f BackendFunc) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return f(ctx, prompt, temperature)
}

// Client is the live Oracle: a Backend bounded by a per-call timeout and an optional rate limit.
type Client struct {
	backend Backend
	timeout time.Duration
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient wraps backend. A non-positive timeout disables the per-call deadline and
// requestsPerMinute <= 0 disables rate limiting.
func NewClient(backend Backend, timeout time.Duration, requestsPerMinute int, log *slog.Logger) *Client {
	c := &Client{
		backend: backend,
		timeout: timeout,
		log:     logger.OrDiscard(log),
	}
	if requestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return c
}

// Available implements Oracle.
func (c *Client) Available() bool { return c.backend != nil }

// Complete implements Oracle.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64) TextResult {
	if c.backend == nil {
		return TextResult{Status: StatusUnavailable, Err: ErrUnavailable}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return TextResult{Status: StatusUnavailable, Err: fmt.Errorf("wait for rate limiter: %w", err)}
		}
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.backend.Generate(callCtx, prompt, temperature)
	if err != nil {
		c.log.Debug("oracle call failed",
			slog.String("backend", c.backend.Name()),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("err", err))
		return TextResult{Status: StatusUnavailable, Err: fmt.Errorf("%s generate: %w", c.backend.Name(), err)}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return TextResult{Status: StatusUnavailable, Err: ErrEmptyResponse}
	}
	return TextResult{Status: StatusOK, Text: text}
}

// CompleteJSON implements Oracle.
func (c *Client) CompleteJSON(ctx context.Context, prompt string, temperature float64) JSONResult {
	res := c.Complete(ctx, prompt, temperature)
	if !res.OK() {
		return JSONResult{Status: res.Status, Err: res.Err}
	}
	value, err := ParseJSONObject(res.Text)
	if err != nil {
		c.log.Debug("oracle returned malformed json", slog.String("backend", c.backend.Name()), slog.Any("err", err))
		return JSONResult{Status: StatusMalformed, Err: err}
	}
	return JSONResult{Status: StatusOK, Value: value}
}

// ParseJSONObject decodes a JSON object, tolerating a surrounding markdown code fence.
func ParseJSONObject(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if strings.Contains(content, "```") {
		parts := strings.SplitN(content, "```", 3)
		content = strings.TrimSpace(strings.TrimPrefix(parts[1], "json"))
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode oracle json: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("decode oracle json: not an object")
	}
	return out, nil
}

// Null is the Oracle used when no backend is configured. Every call is unavailable.
type Null struct{}

// Available implements Oracle.
func (Null) Available() bool { return false }

// Complete implements Oracle.
func (Null) Complete(context.Context, string, float64) TextResult {
	return TextResult{Status: StatusUnavailable, Err: ErrUnavailable}
}

// CompleteJSON implements Oracle.
func (Null) CompleteJSON(context.Context, string, float64) JSONResult {
	return JSONResult{Status: StatusUnavailable, Err: ErrUnavailable}
}
