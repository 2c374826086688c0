package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/models"
)

// InsertExtraction appends an extraction row and returns its id.
// A zero CreatedAt is stamped with the current time.
func (s *Store) InsertExtraction(ctx context.Context, ex models.Extraction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entities, err := marshalList(ex.Entities)
	if err != nil {
		return 0, fmt.Errorf("encode entities: %w", err)
	}
	events, err := marshalList(ex.Events)
	if err != nil {
		return 0, fmt.Errorf("encode events: %w", err)
	}
	tags, err := marshalList(ex.SignalTags)
	if err != nil {
		return 0, fmt.Errorf("encode signal tags: %w", err)
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO extractions (doc_id, entities, events, signal_tags, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ex.DocID, entities, events, tags, formatTime(ex.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert extraction for doc %d: %w", ex.DocID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert extraction for doc %d: %w", ex.DocID, err)
	}
	return id, nil
}

// Extractions returns every extraction ordered by document id, then insertion order.
func (s *Store) Extractions(ctx context.Context) ([]models.Extraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, entities, events, signal_tags, created_at
		FROM extractions
		ORDER BY doc_id ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query extractions: %w", err)
	}
	defer rows.Close()

	var out []models.Extraction
	for rows.Next() {
		var (
			ex                     models.Extraction
			entities, events, tags string
			created                string
		)
		if err := rows.Scan(&ex.ID, &ex.DocID, &entities, &events, &tags, &created); err != nil {
			return nil, fmt.Errorf("scan extraction: %w", err)
		}
		if ex.Entities, err = unmarshalList(entities); err != nil {
			return nil, fmt.Errorf("decode entities of extraction %d: %w", ex.ID, err)
		}
		if ex.Events, err = unmarshalList(events); err != nil {
			return nil, fmt.Errorf("decode events of extraction %d: %w", ex.ID, err)
		}
		if ex.SignalTags, err = unmarshalList(tags); err != nil {
			return nil, fmt.Errorf("decode signal tags of extraction %d: %w", ex.ID, err)
		}
		if ex.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extractions: %w", err)
	}
	return out, nil
}

// ResetExtractions deletes all extractions and returns how many were removed.
func (s *Store) ResetExtractions(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM extractions`)
	if err != nil {
		return 0, fmt.Errorf("reset extractions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset extractions: %w", err)
	}
	return n, nil
}

// InsertContradiction appends a contradiction row and returns its id.
func (s *Store) InsertContradiction(ctx context.Context, c models.Contradiction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO contradictions (focus, doc_id_a, doc_id_b, snippet_a, snippet_b, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.Focus, c.DocIDA, c.DocIDB, c.SnippetA, c.SnippetB, formatTime(c.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert contradiction %d/%d: %w", c.DocIDA, c.DocIDB, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert contradiction %d/%d: %w", c.DocIDA, c.DocIDB, err)
	}
	return id, nil
}

// Contradictions returns contradictions ordered by id. A positive limit caps the result.
func (s *Store) Contradictions(ctx context.Context, limit int) ([]models.Contradiction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, focus, doc_id_a, doc_id_b, snippet_a, snippet_b, created_at
		FROM contradictions
		ORDER BY id ASC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contradictions: %w", err)
	}
	defer rows.Close()

	var out []models.Contradiction
	for rows.Next() {
		var (
			c       models.Contradiction
			created string
		)
		if err := rows.Scan(&c.ID, &c.Focus, &c.DocIDA, &c.DocIDB, &c.SnippetA, &c.SnippetB, &created); err != nil {
			return nil, fmt.Errorf("scan contradiction: %w", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contradictions: %w", err)
	}
	return out, nil
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalList(raw string) ([]string, error) {
	out := []string{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
