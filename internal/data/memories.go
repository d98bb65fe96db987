package data

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Memory is a stored fact about a user.
type Memory struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"userId"`
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AddMemory stores a memory. Identical content for the same user is ignored;
// inserted reports whether a new row was written.
func (s *Store) AddMemory(ctx context.Context, m *Memory) (inserted bool, err error) {
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return false, fmt.Errorf("memory content cannot be empty")
	}
	if m.Category == "" {
		m.Category = "fact"
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO memories (user_id, content, category, importance, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.UserID, content, m.Category, clamp01(m.Importance), toMillis(m.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("add memory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		m.ID, _ = res.LastInsertId()
	}
	return n > 0, nil
}

// TopMemories returns a user's most important memories at or above
// minImportance.
func (s *Store) TopMemories(ctx context.Context, userID string, minImportance float64, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.queryMemories(ctx, `
		SELECT id, user_id, content, category, importance, created_at FROM memories
		WHERE user_id = ? AND importance >= ?
		ORDER BY importance DESC, created_at DESC LIMIT ?`, userID, minImportance, limit)
}

// SearchMemories returns memories containing any of the query's terms,
// most important first.
func (s *Store) SearchMemories(ctx context.Context, userID, query string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return s.TopMemories(ctx, userID, 0, limit)
	}

	clauses := make([]string, 0, len(terms))
	args := []any{userID}
	for _, term := range terms {
		clauses = append(clauses, "LOWER(content) LIKE ?")
		args = append(args, "%"+term+"%")
	}
	args = append(args, limit)

	return s.queryMemories(ctx, `
		SELECT id, user_id, content, category, importance, created_at FROM memories
		WHERE user_id = ? AND (`+strings.Join(clauses, " OR ")+`)
		ORDER BY importance DESC, created_at DESC LIMIT ?`, args...)
}

func (s *Store) queryMemories(ctx context.Context, query string, args ...any) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		var (
			m       Memory
			created int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Category, &m.Importance, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
