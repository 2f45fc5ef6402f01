// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DefaultLimit caps Recent and Search when no limit is given.
const DefaultLimit = 20

// ErrClosed is returned by operations on a closed History.
var ErrClosed = errors.New("history is closed")

// Exchange is one message sent through the client and its outcome.
type Exchange struct {
	ID        int64         `json:"id"`
	Backend   string        `json:"backend"`
	Username  string        `json:"username,omitempty"`
	Prompt    string        `json:"prompt"`
	Reply     string        `json:"reply,omitempty"`
	Error     string        `json:"error,omitempty"`
	Status    int           `json:"status,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// Succeeded reports whether the exchange produced a reply.
func (e Exchange) Succeeded() bool {
	return e.Error == ""
}

// History is the local SQLite log of sent messages.
type History struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the history database at path.
func Open(path string) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &History{db: db, now: time.Now}, nil
}

// Close closes the database.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

// Record appends an exchange and returns its id. A zero CreatedAt is set
// to now.
func (h *History) Record(ctx context.Context, e Exchange) (int64, error) {
	if h == nil || h.db == nil {
		return 0, ErrClosed
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = h.now()
	}
	res, err := h.db.ExecContext(ctx, `
		INSERT INTO exchanges (backend, username, prompt, reply, error, status, request_id, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Backend, e.Username, e.Prompt, e.Reply, e.Error, e.Status, e.RequestID,
		e.Duration.Milliseconds(), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record exchange: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit exchanges, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Exchange, error) {
	return h.query(ctx, "", nil, limit)
}

// Search returns up to limit exchanges whose prompt or reply contains
// query, case-insensitively, newest first. An empty query is Recent.
func (h *History) Search(ctx context.Context, query string, limit int) ([]Exchange, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return h.Recent(ctx, limit)
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return h.query(ctx,
		`WHERE lower(prompt) LIKE ? ESCAPE '\' OR lower(reply) LIKE ? ESCAPE '\'`,
		[]any{pattern, pattern}, limit)
}

// Count returns the number of stored exchanges.
func (h *History) Count(ctx context.Context) (int, error) {
	if h == nil || h.db == nil {
		return 0, ErrClosed
	}
	var n int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exchanges").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count exchanges: %w", err)
	}
	return n, nil
}

// Clear deletes every exchange and returns how many were removed.
func (h *History) Clear(ctx context.Context) (int64, error) {
	if h == nil || h.db == nil {
		return 0, ErrClosed
	}
	res, err := h.db.ExecContext(ctx, "DELETE FROM exchanges")
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	return res.RowsAffected()
}

func (h *History) query(ctx context.Context, where string, args []any, limit int) ([]Exchange, error) {
	if h == nil || h.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	q := `SELECT id, backend, username, prompt, reply, error, status, request_id, duration_ms, created_at
		FROM exchanges ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := h.db.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	out := make([]Exchange, 0)
	for rows.Next() {
		var (
			e         Exchange
			durMs     int64
			createdMs int64
		)
		if err := rows.Scan(&e.ID, &e.Backend, &e.Username, &e.Prompt, &e.Reply, &e.Error,
			&e.Status, &e.RequestID, &durMs, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		e.Duration = time.Duration(durMs) * time.Millisecond
		e.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
