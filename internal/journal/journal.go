// Package journal keeps an sqlite record of every LED change ledctl made.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Journal wraps the SQLite database connection
type Journal struct {
	conn       *sql.DB
	invocation string
}

// Open opens or creates the journal at path and starts a new invocation
// recording args
func Open(path string, args []string) (*Journal, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// Concurrent target writers share one connection
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure journal: %w", err)
	}

	j := &Journal{conn: conn}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	j.invocation = uuid.NewString()
	_, err = conn.Exec(
		"INSERT INTO invocations (id, args, started_at) VALUES (?, ?, ?)",
		j.invocation, strings.Join(args, " "), time.Now().UTC(),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to record invocation: %w", err)
	}
	return j, nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.conn.Close()
}

// Invocation returns the id stamped on rows written by this process
func (j *Journal) Invocation() string {
	return j.invocation
}

// migrate runs the schema migrations
func (j *Journal) migrate() error {
	_, err := j.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var version int
	err = j.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return err
	}

	migrations := []string{
		migrationV1,
		migrationV2,
	}

	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := j.conn.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

// migrationV1 creates the LED change table
const migrationV1 = `
CREATE TABLE IF NOT EXISTS led_events (
    id INTEGER PRIMARY KEY,
    invocation TEXT NOT NULL,
    controller TEXT NOT NULL,
    slot TEXT NOT NULL,
    device TEXT,
    old_state TEXT,
    new_state TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_led_events_time ON led_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_led_events_slot ON led_events(controller, slot);
`

// migrationV2 records the command line of each run
const migrationV2 = `
CREATE TABLE IF NOT EXISTS invocations (
    id TEXT PRIMARY KEY,
    args TEXT,
    started_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_led_events_invocation ON led_events(invocation);
`
