// Package store implements the embedded single-file SQL persistence layer:
// connection bootstrap, the migration chain, and typed CRUD for nodes,
// metric samples, earnings, settings, and audit events.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a single-writer SQLite connection.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open creates (if needed) and opens the database file at path, runs the
// migration chain, and returns a ready Store. Corruption detected while
// opening or migrating is wrapped in a CorruptError; callers should treat
// that as fatal.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite only supports one writer; avoid "database is locked" errors by
	// serializing writes at the connection-pool level.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &CorruptError{Err: err}
	}

	var integrity string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&integrity); err != nil {
		db.Close()
		return nil, &CorruptError{Err: err}
	}
	if integrity != "ok" {
		db.Close()
		return nil, &CorruptError{Err: fmt.Errorf("integrity_check reported %q", integrity)}
	}

	if err := runMigrations(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }
