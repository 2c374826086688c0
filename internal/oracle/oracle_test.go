package oracle_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/config"
	"github.com/DeafMist/intel-radar/backend/internal/oracle"
	"github.com/stretchr/testify/require"
)

func reply(text string) oracle.BackendFunc {
	return func(context.Context, string, float64) (string, error) { return text, nil }
}

func TestClientComplete(t *testing.T) {
	var gotTemp float64
	c := oracle.NewClient(oracle.BackendFunc(func(_ context.Context, prompt string, temperature float64) (string, error) {
		gotTemp = temperature
		return "  answer to " + prompt + "\n", nil
	}), time.Second, 0, nil)

	res := c.Complete(context.Background(), "q", 0.3)
	require.True(t, c.Available())
	require.Equal(t, oracle.StatusOK, res.Status)
	require.Equal(t, "answer to q", res.Text)
	require.InDelta(t, 0.3, gotTemp, 1e-9)
}

func TestClientCompleteFailures(t *testing.T) {
	tests := []struct {
		name    string
		backend oracle.BackendFunc
		timeout time.Duration
	}{
		{
			name: "backend error",
			backend: func(context.Context, string, float64) (string, error) {
				return "", errors.New("boom")
			},
			timeout: time.Second,
		},
		{
			name:    "blank answer",
			backend: reply("   "),
			timeout: time.Second,
		},
		{
			name: "timeout",
			backend: func(ctx context.Context, _ string, _ float64) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
			timeout: 10 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := oracle.NewClient(tt.backend, tt.timeout, 0, nil)
			res := c.Complete(context.Background(), "q", 0.1)
			require.Equal(t, oracle.StatusUnavailable, res.Status)
			require.Error(t, res.Err)
		})
	}
}

func TestClientCompleteJSON(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		status oracle.Status
		want   map[string]any
	}{
		{name: "plain object", answer: `{"confidence": 0.7}`, status: oracle.StatusOK, want: map[string]any{"confidence": 0.7}},
		{name: "fenced object", answer: "```json\n{\"critique\": \"thin\"}\n```", status: oracle.StatusOK, want: map[string]any{"critique": "thin"}},
		{name: "array", answer: `["market"]`, status: oracle.StatusMalformed},
		{name: "prose", answer: "I think it is fine", status: oracle.StatusMalformed},
		{name: "null", answer: "null", status: oracle.StatusMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := oracle.NewClient(reply(tt.answer), time.Second, 0, nil)
			res := c.CompleteJSON(context.Background(), "q", 0.1)
			require.Equal(t, tt.status, res.Status)
			if tt.want != nil {
				require.Equal(t, tt.want, res.Value)
			}
		})
	}
}

func TestClientRateLimitRespectsContext(t *testing.T) {
	c := oracle.NewClient(reply("ok"), time.Second, 1, nil)

	require.True(t, c.Complete(context.Background(), "first", 0).OK())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := c.Complete(ctx, "second", 0)
	require.Equal(t, oracle.StatusUnavailable, res.Status)
}

func TestNull(t *testing.T) {
	var o oracle.Oracle = oracle.Null{}
	require.False(t, o.Available())
	require.Equal(t, oracle.StatusUnavailable, o.Complete(context.Background(), "q", 0).Status)
	require.ErrorIs(t, o.CompleteJSON(context.Background(), "q", 0).Err, oracle.ErrUnavailable)
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "test-model", body.Model)
		require.InDelta(t, 0.3, body.Temperature, 1e-9)
		require.Len(t, body.Messages, 1)
		require.Equal(t, "hello", body.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"YES, these conflict"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	backend := oracle.NewOpenAI("sk-test", "test-model", srv.URL+"/v1/", srv.Client())
	out, err := backend.Generate(context.Background(), "hello", 0.3)
	require.NoError(t, err)
	require.Equal(t, "YES, these conflict", out)
}

func TestOpenAIGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := oracle.NewClient(oracle.NewOpenAI("sk-test", "", srv.URL, srv.Client()), time.Second, 0, nil)
	res := c.Complete(context.Background(), "hello", 0.3)
	require.Equal(t, oracle.StatusUnavailable, res.Status)
	require.ErrorContains(t, res.Err, "status 429")
}

func TestNewWithoutKeyReturnsNull(t *testing.T) {
	for _, provider := range []string{"openai", "gemini"} {
		o, err := oracle.New(context.Background(), config.Oracle{Provider: provider, Timeout: time.Second}, nil)
		require.NoError(t, err)
		require.False(t, o.Available())
	}

	_, err := oracle.New(context.Background(), config.Oracle{Provider: "other"}, nil)
	require.Error(t, err)
}

func TestNewOpenAI(t *testing.T) {
	o, err := oracle.New(context.Background(), config.Oracle{Provider: "openai", OpenAIKey: "sk", Timeout: time.Second}, nil)
	require.NoError(t, err)
	require.True(t, o.Available())
}
