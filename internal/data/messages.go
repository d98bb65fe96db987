package data

import (
	"context"
	"fmt"
	"time"
)

// Message roles stored by the core.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultHistoryLimit is the window of recent messages sent to providers.
const DefaultHistoryLimit = 20

// Message is one stored conversation entry.
type Message struct {
	ID        int64     `json:"id"`
	ThreadID  string    `json:"threadId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Agent     string    `json:"agent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AppendMessage stores a message. There is no idempotency key: retried calls
// append duplicates.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ThreadID == "" {
		return fmt.Errorf("message thread id cannot be empty")
	}
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (thread_id, role, content, agent, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ThreadID, msg.Role, msg.Content, msg.Agent, toMillis(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	msg.ID, _ = res.LastInsertId()
	return nil
}

// RecentMessages returns up to limit of the newest messages in ascending
// creation order.
func (s *Store) RecentMessages(ctx context.Context, threadID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, agent, created_at FROM (
			SELECT * FROM messages WHERE thread_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m       Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.Agent, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// LastAssistantMessage returns the newest assistant message, or ErrNotFound.
func (s *Store) LastAssistantMessage(ctx context.Context, threadID string) (*Message, error) {
	msgs, err := s.RecentMessages(ctx, threadID, 4)
	if err != nil {
		return nil, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return msgs[i], nil
		}
	}
	return nil, fmt.Errorf("assistant message in %s: %w", threadID, ErrNotFound)
}
