package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DeafMist/intel-radar/backend/internal/models"
)

// InsertRawDocument stores doc unless a document with the same URL exists.
// It returns the row id (of the existing row on conflict) and whether a new row was written.
// An empty PublishedAt defaults to FetchedAt.
func (s *Store) InsertRawDocument(ctx context.Context, doc models.RawDocument) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.URL == "" {
		return 0, false, fmt.Errorf("insert raw document: url is required")
	}
	fetched := formatTime(doc.FetchedAt)
	published := doc.PublishedAt
	if published == "" {
		published = fetched
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO raw_docs (url, title, body, source_type, published_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.URL, doc.Title, doc.Body, string(doc.SourceType), published, fetched)
	if err != nil {
		return 0, false, fmt.Errorf("insert raw document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert raw document: %w", err)
	}
	if affected > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("insert raw document: %w", err)
		}
		return id, true, nil
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM raw_docs WHERE url = ?`, doc.URL).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("lookup raw document: %w", err)
	}
	return id, false, nil
}

// RawDocuments returns every raw document ordered by id.
func (s *Store) RawDocuments(ctx context.Context) ([]models.RawDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, title, body, source_type, published_at, fetched_at
		FROM raw_docs
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query raw documents: %w", err)
	}
	defer rows.Close()

	var docs []models.RawDocument
	for rows.Next() {
		var (
			doc        models.RawDocument
			sourceType string
			published  sql.NullString
			fetched    string
		)
		if err := rows.Scan(&doc.ID, &doc.URL, &doc.Title, &doc.Body, &sourceType, &published, &fetched); err != nil {
			return nil, fmt.Errorf("scan raw document: %w", err)
		}
		doc.SourceType = models.SourceType(sourceType)
		doc.PublishedAt = published.String
		if doc.FetchedAt, err = parseTime(fetched); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw documents: %w", err)
	}
	return docs, nil
}

// CountRawDocuments returns the number of raw documents.
func (s *Store) CountRawDocuments(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_docs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count raw documents: %w", err)
	}
	return n, nil
}

// UpsertProcessedDocument writes doc, replacing any previous row with the same id.
func (s *Store) UpsertProcessedDocument(ctx context.Context, doc models.ProcessedDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO processed_docs
			(id, url, title, body, source_type, source_tier, published_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.URL, doc.Title, doc.Body, string(doc.SourceType), doc.SourceTier,
		nullString(doc.PublishedAt), formatTime(doc.FetchedAt))
	if err != nil {
		return fmt.Errorf("upsert processed document %d: %w", doc.ID, err)
	}
	return nil
}

// ProcessedDocuments returns processed documents ordered by id.
// A positive limit caps the number of rows.
func (s *Store) ProcessedDocuments(ctx context.Context, limit int) ([]models.ProcessedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, url, title, body, source_type, source_tier, published_at, fetched_at
		FROM processed_docs
		ORDER BY id ASC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query processed documents: %w", err)
	}
	defer rows.Close()

	var docs []models.ProcessedDocument
	for rows.Next() {
		var (
			doc        models.ProcessedDocument
			sourceType string
			published  sql.NullString
			fetched    string
		)
		if err := rows.Scan(&doc.ID, &doc.URL, &doc.Title, &doc.Body, &sourceType, &doc.SourceTier, &published, &fetched); err != nil {
			return nil, fmt.Errorf("scan processed document: %w", err)
		}
		doc.SourceType = models.SourceType(sourceType)
		doc.PublishedAt = published.String
		if doc.FetchedAt, err = parseTime(fetched); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processed documents: %w", err)
	}
	return docs, nil
}
