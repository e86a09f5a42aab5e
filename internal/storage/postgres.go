package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{&sqlStore{db: db, logger: logger, rebind: dollarPlaceholders}}, nil
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Pipeline runs
	CREATE TABLE IF NOT EXISTS runs (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		network TEXT NOT NULL,
		chain_id BIGINT NOT NULL,
		account TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	-- Registry entries
	CREATE TABLE IF NOT EXISTS deployments (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		contract TEXT NOT NULL,
		address TEXT NOT NULL,
		fresh BOOLEAN NOT NULL DEFAULT FALSE,
		tx_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(run_id, contract)
	);

	-- Wiring calls
	CREATE TABLE IF NOT EXISTS wiring_calls (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Verification outcomes
	CREATE TABLE IF NOT EXISTS verifications (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
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
