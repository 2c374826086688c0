package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DeafMist/intel-radar/backend/internal/models"
)

// InsertReport persists a report and returns its id.
func (s *Store) InsertReport(ctx context.Context, r models.Report) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode report payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (payload, narrative, confidence, generated_at)
		VALUES (?, ?, ?, ?)
	`, string(payload), r.Narrative, r.Confidence, formatTime(r.GeneratedAt))
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return id, nil
}

// LatestReport returns the most recently inserted report or ErrNotFound.
func (s *Store) LatestReport(ctx context.Context) (models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r         models.Report
		payload   string
		generated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, payload, narrative, confidence, generated_at
		FROM reports
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&r.ID, &payload, &r.Narrative, &r.Confidence, &generated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Report{}, ErrNotFound
	}
	if err != nil {
		return models.Report{}, fmt.Errorf("query latest report: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
		return models.Report{}, fmt.Errorf("decode report payload %d: %w", r.ID, err)
	}
	if r.GeneratedAt, err = parseTime(generated); err != nil {
		return models.Report{}, err
	}
	return r, nil
}
