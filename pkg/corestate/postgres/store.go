// Package postgres implements SessionStore's cold archive: an append-only,
// full-text-searchable table of finished call sessions, written once by
// [Store.Archive] and otherwise read-only.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivrcore/mediacore/pkg/corestate"
)

const ddlArchivedSessions = `
CREATE TABLE IF NOT EXISTS archived_sessions (
    session_id    TEXT         PRIMARY KEY,
    active_agent  TEXT         NOT NULL DEFAULT '',
    history       JSONB        NOT NULL DEFAULT '[]',
    context       JSONB        NOT NULL DEFAULT '{}',
    transcript    TEXT         NOT NULL DEFAULT '',
    archived_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_archived_sessions_fts
    ON archived_sessions USING GIN (to_tsvector('english', transcript));

CREATE INDEX IF NOT EXISTS idx_archived_sessions_archived_at
    ON archived_sessions (archived_at);
`

// Migrate creates the cold-archive table if it does not already exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlArchivedSessions); err != nil {
		return fmt.Errorf("corestate postgres: migrate: %w", err)
	}
	return nil
}

// ColdStore writes finished sessions to a PostgreSQL archive table. It is the
// second half of [corestate.Store]'s Archive operation: the hot half reads and
// deletes the Redis record, this half persists it durably.
type ColdStore struct {
	pool *pgxpool.Pool
}

// NewColdStore wraps an already-connected pool. Callers should run [Migrate]
// once at startup before using the returned ColdStore.
func NewColdStore(pool *pgxpool.Pool) *ColdStore {
	return &ColdStore{pool: pool}
}

// Append writes mem as a new archived-session row, deriving a flat transcript
// string from mem.History for full-text search. Append upserts on session_id:
// a repeated call for the same session replaces the earlier row and refreshes
// archived_at.
func (c *ColdStore) Append(ctx context.Context, mem *corestate.CoreMemory) error {
	historyJSON, err := json.Marshal(mem.History)
	if err != nil {
		return fmt.Errorf("corestate postgres: marshal history: %w", err)
	}
	contextJSON, err := json.Marshal(mem.Context)
	if err != nil {
		return fmt.Errorf("corestate postgres: marshal context: %w", err)
	}

	const q = `
		INSERT INTO archived_sessions (session_id, active_agent, history, context, transcript)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET active_agent = EXCLUDED.active_agent,
		    history      = EXCLUDED.history,
		    context      = EXCLUDED.context,
		    transcript   = EXCLUDED.transcript,
		    archived_at  = now()`

	_, err = c.pool.Exec(ctx, q, mem.SessionID, mem.ActiveAgent, historyJSON, contextJSON, flattenTranscript(mem))
	if err != nil {
		return fmt.Errorf("corestate postgres: append: %w", err)
	}
	return nil
}

// Search performs a full-text search over archived transcripts, returning
// matching session IDs ordered most-recent-first.
func (c *ColdStore) Search(ctx context.Context, query string, limit int) ([]string, error) {
	const q = `
		SELECT session_id
		FROM   archived_sessions
		WHERE  to_tsvector('english', transcript) @@ plainto_tsquery('english', $1)
		ORDER  BY archived_at DESC
		LIMIT  $2`

	rows, err := c.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("corestate postgres: search: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("corestate postgres: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func flattenTranscript(mem *corestate.CoreMemory) string {
	var sb []byte
	for _, e := range mem.History {
		sb = append(sb, e.Content...)
		sb = append(sb, '\n')
	}
	return string(sb)
}
