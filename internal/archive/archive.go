// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package archive keeps a durable, queryable record of settled turns.
//
// The session store's JSON snapshot is the live state; the archive is an
// append-only SQLite log that survives session deletion and supports
// substring search across past conversations.
package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// =============================================================================
// TYPES
// =============================================================================

// Entry is one settled turn as recorded in the archive.
type Entry struct {
	ID        int64
	SessionID string
	TurnID    int
	UserText  string
	ReplyText string
	ModelID   string
	Failed    bool
	CreatedAt time.Time
}

// Archive is an append-only SQLite log of settled turns.
type Archive struct {
	db   *sql.DB
	path string
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Open initializes the archive database at the given path, creating the
// parent directory and schema as needed.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	a := &Archive{db: db, path: path}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// initialize creates the schema.
func (a *Archive) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn_id INTEGER NOT NULL,
		user_text TEXT NOT NULL,
		reply_text TEXT NOT NULL,
		model_id TEXT NOT NULL DEFAULT '',
		failed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, turn_id)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// =============================================================================
// RECORDING
// =============================================================================

// RecordTurn appends one settled turn. Re-recording the same session/turn
// pair overwrites the previous row, so a retried turn keeps a single entry.
func (a *Archive) RecordTurn(sessionID string, turnID int, userText, replyText, modelID string, failed bool) error {
	_, err := a.db.Exec(`
		INSERT INTO turns (session_id, turn_id, user_text, reply_text, model_id, failed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, turn_id) DO UPDATE SET
			user_text = excluded.user_text,
			reply_text = excluded.reply_text,
			model_id = excluded.model_id,
			failed = excluded.failed`,
		sessionID, turnID, userText, replyText, modelID, boolToInt(failed))
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Recent returns the most recent entries, newest first.
func (a *Archive) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(`
		SELECT id, session_id, turn_id, user_text, reply_text, model_id, failed, created_at
		FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent turns: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Search returns entries whose user or reply text contains the query,
// case-insensitively, newest first.
func (a *Archive) Search(query string, limit int) ([]Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := a.db.Query(`
		SELECT id, session_id, turn_id, user_text, reply_text, model_id, failed, created_at
		FROM turns
		WHERE user_text LIKE ? ESCAPE '\' OR reply_text LIKE ? ESCAPE '\'
		ORDER BY id DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search turns: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// BySession returns all entries for one session in turn order.
func (a *Archive) BySession(sessionID string) ([]Entry, error) {
	rows, err := a.db.Query(`
		SELECT id, session_id, turn_id, user_text, reply_text, model_id, failed, created_at
		FROM turns WHERE session_id = ? ORDER BY turn_id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session turns: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count returns the number of archived turns.
func (a *Archive) Count() (int, error) {
	var n int
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return n, nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var failed int
		if err := rows.Scan(&e.ID, &e.SessionID, &e.TurnID, &e.UserText, &e.ReplyText, &e.ModelID, &failed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		e.Failed = failed != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	return entries, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
