// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides module event and note persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Writers wait instead of failing while the watcher and a CLI share the file
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS module_events (
			event_id    TEXT PRIMARY KEY,
			module      TEXT NOT NULL,
			version     TEXT NOT NULL DEFAULT '',
			action      TEXT NOT NULL,
			success     INTEGER NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			source      TEXT NOT NULL DEFAULT '',
			hash        TEXT NOT NULL DEFAULT '',
			generation  TEXT NOT NULL DEFAULT '',
			tools_json  TEXT NOT NULL DEFAULT '[]',
			ts          TEXT NOT NULL,

			CHECK (action IN ('load', 'reload', 'unload', 'shutdown'))
		);

		CREATE INDEX IF NOT EXISTS idx_module_events_ts ON module_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_module_events_module ON module_events(module, ts DESC);

		CREATE TABLE IF NOT EXISTS notes (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			UNIQUE (user_id, key)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
