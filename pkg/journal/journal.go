// Package journal keeps a SQLite log of detections, greetings and
// dialogue sessions for the dashboard and later review.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Kind is the type of a journal event.
type Kind string

const (
	KindDetection Kind = "detection"
	KindGreeting  Kind = "greeting"
	KindDialogue  Kind = "dialogue"
)

// Event is one journal row.
type Event struct {
	ID         string         `json:"id"`
	At         time.Time      `json:"at"`
	Kind       Kind           `json:"kind"`
	DisplayKey string         `json:"display_key,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CropPath   string         `json:"crop_path,omitempty"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Kind  Kind
	Since time.Time
	Limit int
}

// Journal is a SQLite-backed event log. Safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: enable WAL mode: %w", err)
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			at DATETIME NOT NULL,
			kind TEXT NOT NULL,
			display_key TEXT,
			detail TEXT,
			crop_path TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_at ON events(at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_at ON events(kind, at DESC)`,
	}
	for _, m := range migrations {
		if _, err := j.db.Exec(m); err != nil {
			return fmt.Errorf("journal: migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record inserts e, filling in ID and At when they are zero.
func (j *Journal) Record(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()

	var detail string
	if len(e.Detail) > 0 {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("journal: marshal detail: %w", err)
		}
		detail = string(b)
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (id, at, kind, display_key, detail, crop_path) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.At, string(e.Kind), e.DisplayKey, detail, e.CropPath)
	if err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	return j.List(ctx, Filter{Limit: limit})
}

// List returns events matching f, newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Event, error) {
	query := `SELECT id, at, kind, display_key, detail, crop_path FROM events WHERE 1=1`
	var args []any

	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		query += " AND at >= ?"
		args = append(args, f.Since.UTC())
	}
	query += " ORDER BY at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                     Event
			kind                  string
			key, detail, cropPath sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.At, &kind, &key, &detail, &cropPath); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		e.Kind = Kind(kind)
		e.DisplayKey = key.String
		e.CropPath = cropPath.String
		if detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("journal: unmarshal detail: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: list events: %w", err)
	}
	return events, nil
}

// Count returns the number of events of kind, or of all kinds when kind is
// empty.
func (j *Journal) Count(ctx context.Context, kind Kind) (int, error) {
	query := `SELECT COUNT(*) FROM events`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	var n int
	if err := j.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count events: %w", err)
	}
	return n, nil
}
