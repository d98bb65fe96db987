package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════════
// THREADS
// ═══════════════════════════════════════════════════════════════════════════════

// Thread is a conversational session.
type Thread struct {
	ID        string                     `json:"id"`
	UserID    string                     `json:"userId"`
	CreatedAt time.Time                  `json:"createdAt"`
	Metadata  map[string]json.RawMessage `json:"metadata"`
	Version   int64                      `json:"version"`
}

// CreateThread inserts a new thread with a generated id.
func (s *Store) CreateThread(ctx context.Context, userID string) (*Thread, error) {
	t := &Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.now(),
		Metadata:  map[string]json.RawMessage{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, user_id, created_at, metadata, version) VALUES (?, ?, ?, '{}', 0)`,
		t.ID, t.UserID, toMillis(t.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return t, nil
}

// GetThread returns a thread by id, or ErrNotFound.
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	var (
		t       Thread
		created int64
		meta    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, metadata, version FROM threads WHERE id = ?`, id,
	).Scan(&t.ID, &t.UserID, &created, &meta, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}

	t.CreatedAt = fromMillis(created)
	if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode thread metadata: %w", err)
	}
	if t.Metadata == nil {
		t.Metadata = map[string]json.RawMessage{}
	}
	return &t, nil
}

// EnsureThread returns the thread with id, creating it for userID when it
// does not exist. An empty id always creates a new thread. created reports
// whether a new row was inserted.
func (s *Store) EnsureThread(ctx context.Context, id, userID string) (t *Thread, created bool, err error) {
	if id == "" {
		t, err = s.CreateThread(ctx, userID)
		return t, err == nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO threads (id, user_id, created_at, metadata, version) VALUES (?, ?, ?, '{}', 0)`,
		id, userID, toMillis(s.now()))
	if err != nil {
		return nil, false, fmt.Errorf("ensure thread: %w", err)
	}
	n, _ := res.RowsAffected()

	t, err = s.GetThread(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return t, n > 0, nil
}

// GetMetadata returns a thread's metadata bag and version.
func (s *Store) GetMetadata(ctx context.Context, threadID string) (map[string]json.RawMessage, int64, error) {
	t, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, 0, err
	}
	return t.Metadata, t.Version, nil
}

// SetMetadataKey sets one metadata key if the thread is still at
// expectedVersion. Returns the new version, ErrConflict when another writer
// got there first, or ErrNotFound.
func (s *Store) SetMetadataKey(ctx context.Context, threadID, key string, value json.RawMessage, expectedVersion int64) (int64, error) {
	var newVersion int64

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var (
			meta    string
			version int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT metadata, version FROM threads WHERE id = ?`, threadID,
		).Scan(&meta, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		if version != expectedVersion {
			return fmt.Errorf("thread %s at version %d, expected %d: %w", threadID, version, expectedVersion, ErrConflict)
		}

		bag := map[string]json.RawMessage{}
		if err := json.Unmarshal([]byte(meta), &bag); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
		bag[key] = value
		encoded, err := json.Marshal(bag)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE threads SET metadata = ?, version = version + 1 WHERE id = ? AND version = ?`,
			string(encoded), threadID, expectedVersion)
		if err != nil {
			return fmt.Errorf("update metadata: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("thread %s: %w", threadID, ErrConflict)
		}
		newVersion = expectedVersion + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}
