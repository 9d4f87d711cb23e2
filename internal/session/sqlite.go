package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	chat_id    TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// SQLiteStorage is a durable session backend for single-process deployments
// that do not want to lose dialog position on restart. Sessions are cache
// state, not the operator-owned backing store, so the table is self-created.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (and initializes) a sqlite session database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite sessions: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite sessions: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Get returns the raw decoded JSON tree so the Manager's normalization can
// lift legacy shapes the same way for every backend.
func (s *SQLiteStorage) Get(ctx context.Context, chatID string) (any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM chat_sessions WHERE chat_id = ?`, chatID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tree any
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", chatID, err)
	}
	return tree, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, chatID string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", chatID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (chat_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		chatID, string(data), time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStorage) Delete(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE chat_id = ?`, chatID)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
