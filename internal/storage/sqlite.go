package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &SQLiteStore{&sqlStore{db: db, logger: logger, rebind: func(q string) string { return q }}}, nil
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Pipeline runs
	CREATE TABLE IF NOT EXISTS runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		network TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		account TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	-- Registry entries
	CREATE TABLE IF NOT EXISTS deployments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		contract TEXT NOT NULL,
		address TEXT NOT NULL,
		fresh INTEGER NOT NULL DEFAULT 0,
		tx_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(run_id, contract)
	);

	-- Wiring calls
	CREATE TABLE IF NOT EXISTS wiring_calls (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Verification outcomes
	CREATE TABLE IF NOT EXISTS verifications (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		contract TEXT NOT NULL,
		address TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		guid TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_deployments_run ON deployments(run_id);
	CREATE INDEX IF NOT EXISTS idx_deployments_address ON deployments(address);
	CREATE INDEX IF NOT EXISTS idx_wiring_calls_run ON wiring_calls(run_id);
	CREATE INDEX IF NOT EXISTS idx_verifications_run ON verifications(run_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}
