// Package db owns the SQLite file: connection setup, schema migrations and
// the parent/child event log.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const busyTimeoutMillis = 5000

// OpenDB opens (or creates) the database at path in WAL mode. Missing parent
// directories are created.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", path, busyTimeoutMillis)
	return open(path, dsn)
}

// OpenReadOnly opens an existing database without creating it.
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("db not found at %s: %w", path, err)
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", path, busyTimeoutMillis)
	return open(path, dsn)
}

func open(path, dsn string) (*sql.DB, error) {
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}
	return database, nil
}

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY,
		timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
		parent_id INTEGER,
		event_type TEXT NOT NULL,
		payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id)`,
}

// InitSchema brings the database up to the latest schema version.
func InitSchema(database *sql.DB) error {
	version, err := SchemaVersion(database)
	if err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		tx, err := database.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaVersion reports how many migrations have been applied.
func SchemaVersion(database *sql.DB) (int, error) {
	var v int
	if err := database.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
