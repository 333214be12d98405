package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

// DB wraps a sql.DB handle on a SQLite file for edge deployments.
// Timestamps are stored as fixed-width RFC3339 TEXT so version
// equality survives the round trip exactly.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path, enables WAL and runs
// the schema. Use ":memory:" for tests.
func Open(ctx context.Context, path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite writers serialize on the file; a single connection avoids
	// SQLITE_BUSY under concurrent reconciliation.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{DB: conn}
	if err := db.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// InitSchema runs the schema initialization. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Transaction executes a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.DB.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'farmer',
	cooperative_id TEXT NOT NULL DEFAULT '',
	country_code TEXT NOT NULL DEFAULT '',
	language_code TEXT NOT NULL DEFAULT 'en',
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	last_login_at TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	token TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL,
	user_agent TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions (token);
CREATE INDEX IF NOT EXISTS idx_sessions_refresh_token ON sessions (refresh_token);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);

CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	entity TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	fields TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'synced',
	updated_at TEXT NOT NULL,
	last_sync_at TEXT,
	offline_id TEXT NOT NULL DEFAULT '',
	device_id TEXT NOT NULL DEFAULT '',
	deleted INTEGER NOT NULL DEFAULT 0,
	deleted_at TEXT,
	created_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_offline_identity
	ON records (device_id, offline_id) WHERE offline_id <> '';
CREATE INDEX IF NOT EXISTS idx_records_owner ON records (owner_id);
CREATE INDEX IF NOT EXISTS idx_records_entity ON records (entity);

CREATE TABLE IF NOT EXISTS sync_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	device_id TEXT NOT NULL DEFAULT '',
	operation_type TEXT NOT NULL,
	status TEXT NOT NULL,
	records_affected INTEGER NOT NULL DEFAULT 0,
	conflicts_count INTEGER NOT NULL DEFAULT 0,
	details TEXT NOT NULL DEFAULT '[]',
	error_info TEXT NOT NULL DEFAULT '',
	duration_ns INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_logs_user ON sync_logs (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS conflicts (
	id TEXT PRIMARY KEY,
	record_id TEXT NOT NULL,
	entity TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	device_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	base_version TEXT NOT NULL,
	proposed_fields TEXT,
	proposed_mutated_at TEXT NOT NULL,
	stored_fields TEXT,
	stored_version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	resolved_at TEXT,
	resolved_by TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conflicts_open_record
	ON conflicts (record_id) WHERE resolved_at IS NULL;

CREATE TABLE IF NOT EXISTS devices (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT '',
	last_sync_at TEXT,
	last_seen_at TEXT NOT NULL,
	batches_submitted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	UNIQUE (user_id, device_id)
);

CREATE TABLE IF NOT EXISTS entity_schemas (
	name TEXT PRIMARY KEY,
	definition TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// timeLayout is RFC3339 with a fixed six-digit fraction. Versions are
// microsecond-truncated, so the fixed width loses nothing, equal times
// always render equal strings, and lexicographic order on the column
// is chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// formatTime renders a timestamp for storage
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime reads a stored timestamp
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// formatNullTime renders an optional timestamp, nil for NULL
func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseNullTime reads an optional stored timestamp
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// mapError translates driver errors to domain errors where the domain
// distinguishes them
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", domain.ErrAlreadyExists, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
	}
	return err
}
