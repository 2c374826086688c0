package extract_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/extract"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/oracle"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// opencensus (pulled in via the genai client) starts a worker goroutine in
	// its package init; it is not created by the code under test.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type memStore struct {
	mu   sync.Mutex
	rows []models.Extraction
	err  error
}

func (s *memStore) InsertExtraction(_ context.Context, ex models.Extraction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.rows = append(s.rows, ex)
	return int64(len(s.rows)), nil
}

func (s *memStore) docIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.rows))
	for _, r := range s.rows {
		ids = append(ids, r.DocID)
	}
	return ids
}

func jsonOracle(answer string) oracle.Oracle {
	return oracle.NewClient(oracle.BackendFunc(func(context.Context, string, float64) (string, error) {
		return answer, nil
	}), time.Second, 0, nil)
}

func longDoc(id int64) models.ProcessedDocument {
	return models.ProcessedDocument{
		ID:    id,
		Title: fmt.Sprintf("Document %d", id),
		Body:  strings.Repeat("Acme Corp expands battery production capacity. ", 3),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want extract.Signals
	}{
		{
			name: "valid tags kept",
			raw: map[string]any{
				"entities":    []any{"Acme Corp", "EU"},
				"events":      []any{"Acme opened a plant"},
				"signal_tags": []any{"technology", "risk"},
			},
			want: extract.Signals{
				Entities:   []string{"Acme Corp", "EU"},
				Events:     []string{"Acme opened a plant"},
				SignalTags: []string{"technology", "risk"},
			},
		},
		{
			name: "invalid tags filtered",
			raw:  map[string]any{"signal_tags": []any{"gossip", "regulation"}},
			want: extract.Signals{Entities: []string{}, Events: []string{}, SignalTags: []string{"regulation"}},
		},
		{
			name: "tags match case-sensitively",
			raw:  map[string]any{"signal_tags": []any{"RISK", "Regulation"}},
			want: extract.Signals{Entities: []string{}, Events: []string{}, SignalTags: []string{"market"}},
		},
		{
			name: "all invalid defaults to market",
			raw:  map[string]any{"signal_tags": []any{"gossip", 42}},
			want: extract.Signals{Entities: []string{}, Events: []string{}, SignalTags: []string{"market"}},
		},
		{
			name: "wrong shapes",
			raw:  map[string]any{"entities": "Acme", "events": nil},
			want: extract.Signals{Entities: []string{}, Events: []string{}, SignalTags: []string{"market"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, extract.Validate(tt.raw))
		})
	}
}

func TestValidateCaps(t *testing.T) {
	entities := make([]any, 0, 40)
	events := make([]any, 0, 40)
	for i := 0; i < 40; i++ {
		entities = append(entities, fmt.Sprintf("E%d", i))
		events = append(events, fmt.Sprintf("event %d", i))
	}
	got := extract.Validate(map[string]any{"entities": entities, "events": events})
	require.Len(t, got.Entities, extract.MaxEntities)
	require.Len(t, got.Events, extract.MaxEvents)
	require.Equal(t, "E0", got.Entities[0])
}

func TestExtractFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		oracle oracle.Oracle
	}{
		{name: "no oracle", oracle: oracle.Null{}},
		{name: "malformed", oracle: jsonOracle("not json at all")},
		{name: "backend failure", oracle: oracle.NewClient(oracle.BackendFunc(func(context.Context, string, float64) (string, error) {
			return "", errors.New("connection refused")
		}), time.Second, 0, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := extract.New(tt.oracle, &memStore{}, nil, extract.Options{})
			require.Equal(t, extract.Placeholder(), ex.Extract(context.Background(), longDoc(1), "batteries"))
		})
	}
}

func TestRunSkipsShortDocsAndHonoursMaxDocs(t *testing.T) {
	st := &memStore{}
	ex := extract.New(jsonOracle(`{"entities":["Acme Corp"],"events":[],"signal_tags":["market"]}`), st, nil, extract.Options{})

	docs := []models.ProcessedDocument{
		longDoc(4),
		{ID: 2, Title: "tiny", Body: "too short"},
		longDoc(1),
		longDoc(3),
	}

	n, err := ex.Run(context.Background(), docs, "batteries", 3)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []int64{1, 3}, st.docIDs())
	require.Equal(t, []string{"Acme Corp"}, st.rows[0].Entities)
}

func TestRunConcurrent(t *testing.T) {
	st := &memStore{}
	ex := extract.New(jsonOracle(`{"entities":["Acme Corp"],"events":["e"],"signal_tags":["risk","bogus"]}`), st, nil,
		extract.Options{Concurrency: 4, TrackProgress: true})

	docs := make([]models.ProcessedDocument, 0, 20)
	for i := int64(1); i <= 20; i++ {
		docs = append(docs, longDoc(i))
	}

	n, err := ex.Run(context.Background(), docs, "batteries", 0)
	require.NoError(t, err)
	require.Equal(t, 20, n)
	require.ElementsMatch(t, func() []int64 {
		ids := make([]int64, 0, 20)
		for i := int64(1); i <= 20; i++ {
			ids = append(ids, i)
		}
		return ids
	}(), st.docIDs())
	for _, row := range st.rows {
		require.Equal(t, []string{"risk"}, row.SignalTags)
	}
}

func TestRunStoreFailureAborts(t *testing.T) {
	st := &memStore{err: errors.New("disk I/O error")}
	ex := extract.New(oracle.Null{}, st, nil, extract.Options{Concurrency: 2})

	_, err := ex.Run(context.Background(), []models.ProcessedDocument{longDoc(1), longDoc(2)}, "batteries", 0)
	require.ErrorContains(t, err, "disk I/O error")
}
