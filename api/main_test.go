package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/intel-radar/backend/internal/config"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/search"
	"github.com/DeafMist/intel-radar/backend/internal/store"
)

type stubSearcher struct {
	params    search.Params
	healthErr error
}

func (s *stubSearcher) Health(context.Context) error { return s.healthErr }

func (s *stubSearcher) SearchDocuments(_ context.Context, params search.Params) (*search.Result, error) {
	s.params = params
	return &search.Result{Total: 1, Items: []search.Document{{DocID: 4, Title: "Cells"}}}, nil
}

func newTestServer(t *testing.T, searcher searcher) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := &server{
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:   &config.API{DefaultPage: 2, MaxPage: 5},
		store: st,
	}
	if searcher != nil {
		srv.search = searcher
	}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, st
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, body := get(t, ts.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status": "ok", "search": "disabled"}`, string(body))

	ts, _ = newTestServer(t, &stubSearcher{healthErr: errors.New("red")})
	_, body = get(t, ts.URL+"/health")
	require.JSONEq(t, `{"status": "ok", "search": "unavailable"}`, string(body))
}

func TestLatestReport(t *testing.T) {
	ts, st := newTestServer(t, nil)

	resp, _ := get(t, ts.URL+"/reports/latest")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	generated := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	_, err := st.InsertReport(context.Background(), models.Report{
		Payload:     models.ReportPayload{Topic: "Acme", Confidence: 0.49, GeneratedAt: generated},
		Narrative:   "# Acme\n",
		Confidence:  0.49,
		GeneratedAt: generated,
	})
	require.NoError(t, err)

	resp, body := get(t, ts.URL+"/reports/latest")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got reportResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, 0.49, got.Confidence)
	require.Equal(t, "Acme", got.Payload.Topic)

	resp, body = get(t, ts.URL+"/reports/latest/narrative")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/markdown; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Equal(t, "# Acme\n", string(body))
}

func TestDocumentsAndContradictions(t *testing.T) {
	ts, st := newTestServer(t, nil)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, st.UpsertProcessedDocument(ctx, models.ProcessedDocument{
			ID: i, URL: "https://example.com/" + string(rune('a'+i)), Title: "doc", SourceTier: 2,
		}))
	}
	_, err := st.InsertContradiction(ctx, models.Contradiction{Focus: "Acme Corp", DocIDA: 1, DocIDB: 2})
	require.NoError(t, err)

	var docs struct {
		Items []models.ProcessedDocument `json:"items"`
	}
	_, body := get(t, ts.URL+"/documents")
	require.NoError(t, json.Unmarshal(body, &docs))
	require.Len(t, docs.Items, 2, "default page size")

	_, body = get(t, ts.URL+"/documents?limit=50")
	require.NoError(t, json.Unmarshal(body, &docs))
	require.Len(t, docs.Items, 3)

	var contradictions struct {
		Items []models.Contradiction `json:"items"`
	}
	_, body = get(t, ts.URL+"/contradictions")
	require.NoError(t, json.Unmarshal(body, &contradictions))
	require.Len(t, contradictions.Items, 1)
	require.Equal(t, "Acme Corp", contradictions.Items[0].Focus)
}

func TestSearch(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, _ := get(t, ts.URL+"/search?q=cells")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	stub := &stubSearcher{}
	ts, _ = newTestServer(t, stub)
	resp, body := get(t, ts.URL+"/search?q=cells&keywords=a,+b,&size=99&min_tier=2&start=2026-03-01T00:00:00Z&end=bad")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "cells", stub.params.Query)
	require.Equal(t, []string{"a", "b"}, stub.params.Keywords)
	require.Equal(t, 5, stub.params.Size)
	require.Equal(t, 2, stub.params.MinTier)
	require.NotNil(t, stub.params.Start)
	require.Nil(t, stub.params.End)

	var res search.Result
	require.NoError(t, json.Unmarshal(body, &res))
	require.Equal(t, int64(1), res.Total)
}

func TestClampInt(t *testing.T) {
	require.Equal(t, 20, clampInt("", 20, 100))
	require.Equal(t, 20, clampInt("abc", 20, 100))
	require.Equal(t, 20, clampInt("-1", 20, 100))
	require.Equal(t, 100, clampInt("500", 20, 100))
	require.Equal(t, 42, clampInt("42", 20, 100))
}
