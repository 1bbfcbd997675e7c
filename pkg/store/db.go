// Package store persists items, containers, account links and sync cursors in
// SQLite.
//
// The database lives at ~/.config/mirrorsync/mirrorsync.db by default.
// Use Open() to connect and Init() to create the schema.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate")
)

const schema = `
CREATE TABLE IF NOT EXISTS containers (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	is_mirror INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	parent_id TEXT NOT NULL REFERENCES containers(id),
	owner_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	origin TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	due_at TEXT,
	completed INTEGER NOT NULL DEFAULT 0,
	completed_at TEXT,
	all_day INTEGER NOT NULL DEFAULT 0,
	start_at TEXT,
	end_at TEXT,
	location TEXT NOT NULL DEFAULT '',
	remote_id TEXT,
	remote_parent_id TEXT,
	remote_revision TEXT,
	remote_updated_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS account_links (
	owner_id TEXT PRIMARY KEY,
	access_token TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL,
	expiry TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	owner_id TEXT NOT NULL REFERENCES account_links(owner_id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	cursor TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (owner_id, kind)
);

CREATE TABLE IF NOT EXISTS remote_containers (
	owner_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	remote_container_id TEXT NOT NULL,
	PRIMARY KEY (owner_id, kind)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_remote ON items(owner_id, kind, remote_id)
	WHERE remote_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_containers_mirror ON containers(owner_id, kind)
	WHERE is_mirror = 1;
CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent_id);
CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_id, kind);
`

// DB wraps a SQL database connection with sync-specific operations.
type DB struct {
	*sql.DB
	now func() time.Time
}

// DefaultPath returns the default database path (~/.config/mirrorsync/mirrorsync.db)
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "mirrorsync", "mirrorsync.db"), nil
}

// Open opens or creates the database at the given path
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, now: time.Now}, nil
}

// Init creates the schema.
func (db *DB) Init() error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SetClock replaces the time source used for created_at/updated_at stamps.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
