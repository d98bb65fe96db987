package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document is previously ingested reference material.
type Document struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddDocument stores a document, generating an id when empty.
func (s *Store) AddDocument(ctx context.Context, d *Document) error {
	if d.Title == "" && d.Content == "" {
		return fmt.Errorf("document cannot be empty")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, title, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.Title, d.Content, toMillis(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// ListDocuments returns a user's newest documents.
func (s *Store) ListDocuments(ctx context.Context, userID string, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, content, created_at FROM documents
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		var (
			d       Document
			created int64
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &d.Content, &created); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.CreatedAt = fromMillis(created)
		out = append(out, &d)
	}
	return out, rows.Err()
}
