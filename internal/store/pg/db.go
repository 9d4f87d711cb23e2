// Package pg implements the store.Database capability on Postgres via the
// pgx stdlib driver.
package pg

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenDB opens and pings a Postgres connection for the given DSN.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Schema is the canonical DDL for the backing store. The operator applies
// it (directly or through the migrate command); the runtime never does.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	telegram_id   BIGINT NOT NULL UNIQUE,
	chat_id       TEXT,
	username      TEXT,
	first_name    TEXT,
	last_name     TEXT,
	language_code TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS step_states (
	id           UUID PRIMARY KEY,
	user_id      UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	chat_id      TEXT NOT NULL,
	slug         TEXT NOT NULL,
	current_page TEXT,
	answers      JSONB NOT NULL DEFAULT '{}',
	history      JSONB NOT NULL DEFAULT '[]',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, slug)
);

CREATE TABLE IF NOT EXISTS form_entries (
	id            UUID PRIMARY KEY,
	user_id       UUID NOT NULL,
	step_state_id UUID NOT NULL REFERENCES step_states (id) ON DELETE CASCADE,
	slug          TEXT NOT NULL,
	page_id       TEXT NOT NULL,
	payload       JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (step_state_id, page_id)
);
`
