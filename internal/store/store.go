// Package store provides the SQLite-backed relational store for ragindex:
// projects, their uploaded assets, the ordered text chunks produced by file
// processing, and the task_executions table used by the ledger package.
// A single *sql.DB is shared by all of them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a referenced project, asset, or row is absent.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned when a unique row already exists.
var ErrAlreadyExists = errors.New("store: already exists")

// querier is satisfied by both *sql.DB and *sql.Tx so helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the relational store backed by a local SQLite database.
// It is safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("store: could not create %s: %w", dir, err)
			}
		}
	}

	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	// This also keeps a ":memory:" database alive for the lifetime of the pool.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS projects (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id   TEXT    NOT NULL UNIQUE,
    created_at   INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    asset_project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    asset_type       TEXT    NOT NULL,
    asset_name       TEXT    NOT NULL,
    asset_size       INTEGER NOT NULL DEFAULT 0,
    asset_config     TEXT,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    UNIQUE (asset_project_id, asset_name)
);
CREATE INDEX IF NOT EXISTS idx_assets_project_type
    ON assets (asset_project_id, asset_type);

CREATE TABLE IF NOT EXISTS chunks (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_text       TEXT    NOT NULL,
    chunk_metadata   TEXT,
    chunk_order      INTEGER NOT NULL CHECK (chunk_order >= 1),
    chunk_project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    chunk_asset_id   INTEGER NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_project_id
    ON chunks (chunk_project_id, id);
CREATE INDEX IF NOT EXISTS idx_chunks_asset
    ON chunks (chunk_asset_id, chunk_order);

CREATE TABLE IF NOT EXISTS task_executions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    task_name        TEXT    NOT NULL,
    task_args_hash   TEXT    NOT NULL,
    external_task_id TEXT    NOT NULL DEFAULT '',
    status           TEXT    NOT NULL CHECK (status IN ('PENDING','STARTED','RETRY','SUCCESS','FAILURE')),
    task_args        TEXT,
    result           TEXT,
    started_at       INTEGER,
    completed_at     INTEGER,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    UNIQUE (task_name, task_args_hash, external_task_id)
);
CREATE INDEX IF NOT EXISTS idx_task_executions_lookup
    ON task_executions (task_name, task_args_hash);
CREATE INDEX IF NOT EXISTS idx_task_executions_external
    ON task_executions (external_task_id);
CREATE INDEX IF NOT EXISTS idx_task_executions_created
    ON task_executions (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// DB exposes the shared connection pool to sibling packages (the ledger)
// that own their own queries against the same schema.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Name returns the dependency label used in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(q querier) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
