// Package store persists the append-only event log and the reference tables
// (users, tags, grants, task creation records, saved searches) in SQLite.
//
// The database runs in embedded mode using go-sqlite3 with WAL for concurrent
// reads during writes. Only the log and the immutable reference tables are
// authoritative; all derived task state is reproducible by replaying the log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Ekleog/risuto/internal/event"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite connection holding the event log.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the database at path and applies the pragmas the
// log relies on. The caller must Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL keeps readers unblocked while the commit path writes.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL UNIQUE,
		archived INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS perms (
		tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id),
		can_edit INTEGER NOT NULL DEFAULT 0,
		can_triage INTEGER NOT NULL DEFAULT 0,
		can_relabel_to_any INTEGER NOT NULL DEFAULT 0,
		can_comment INTEGER NOT NULL DEFAULT 0,
		can_archive INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tag_id, user_id)
	);

	-- Only the immutable creation fields live here; everything else is
	-- derived from the log.
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		created_at TEXT NOT NULL,
		initial_title TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		position INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		author_id TEXT NOT NULL REFERENCES users(id),
		task_id TEXT NOT NULL REFERENCES tasks(id),
		at TEXT NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS searches (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		predicate TEXT NOT NULL,
		task_order TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
	CREATE INDEX IF NOT EXISTS idx_events_at ON events(at, id);
	CREATE INDEX IF NOT EXISTS idx_tags_owner ON tags(owner_id);
	CREATE INDEX IF NOT EXISTS idx_searches_owner ON searches(owner_id);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Committed is one log entry with its canonical position.
type Committed struct {
	Position int64       `json:"position"`
	Event    event.Event `json:"event"`
}

// AppendEvent appends an event to the log and returns its canonical position.
// Appending an id already in the log returns the existing position with
// created=false, which makes submission retries idempotent.
func (s *Store) AppendEvent(ctx context.Context, ev event.Event) (pos int64, created bool, err error) {
	payload, err := event.MarshalPayload(ev.Payload)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO events (id, author_id, task_id, at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		string(ev.ID), string(ev.Author), string(ev.Task),
		ev.At.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to append event %s: %w", ev.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if pos, err := res.LastInsertId(); err == nil {
			return pos, true, nil
		}
	}

	err = s.conn.QueryRowContext(ctx,
		`SELECT position FROM events WHERE id = ?`, string(ev.ID)).Scan(&pos)
	if err != nil {
		return 0, false, fmt.Errorf("failed to locate event %s: %w", ev.ID, err)
	}
	return pos, false, nil
}

// LastPosition returns the highest canonical position, or 0 for an empty log.
func (s *Store) LastPosition(ctx context.Context) (int64, error) {
	var pos sql.NullInt64
	err := s.conn.QueryRowContext(ctx, `SELECT MAX(position) FROM events`).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("failed to read last position: %w", err)
	}
	return pos.Int64, nil
}

// EventsAfter returns every committed event with position > after, in
// canonical order.
func (s *Store) EventsAfter(ctx context.Context, after int64) ([]Committed, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT position, id, author_id, task_id, at, payload
		FROM events WHERE position > ? ORDER BY position ASC`, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventByID loads one committed event. Returns ErrNotFound when the id is
// not in the log.
func (s *Store) EventByID(ctx context.Context, id event.EventID) (Committed, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT position, id, author_id, task_id, at, payload
		FROM events WHERE id = ?`, string(id))
	if err != nil {
		return Committed{}, fmt.Errorf("failed to query event %s: %w", id, err)
	}
	defer rows.Close()
	entries, err := scanEvents(rows)
	if err != nil {
		return Committed{}, err
	}
	if len(entries) == 0 {
		return Committed{}, ErrNotFound
	}
	return entries[0], nil
}

// EventsForTask returns every committed event targeting one task, in
// canonical order.
func (s *Store) EventsForTask(ctx context.Context, task event.TaskID) ([]Committed, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT position, id, author_id, task_id, at, payload
		FROM events WHERE task_id = ? ORDER BY position ASC`, string(task))
	if err != nil {
		return nil, fmt.Errorf("failed to query task events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Committed, error) {
	var out []Committed
	for rows.Next() {
		var c Committed
		var id, author, task, at, payload string
		if err := rows.Scan(&c.Position, &id, &author, &task, &at, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
		}
		p, err := event.UnmarshalPayload([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", id, err)
		}
		c.Event = event.Event{
			ID:      event.EventID(id),
			Author:  event.UserID(author),
			At:      ts,
			Task:    event.TaskID(task),
			Payload: p,
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return out, nil
}
