package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// sqlStore holds the queries shared by the SQLite and Postgres stores.
// Queries are written with ? placeholders and rebound per driver. Every
// table carries an auto-incrementing seq column that orders rows by insertion.
type sqlStore struct {
	db     *sql.DB
	logger *slog.Logger
	rebind func(string) string
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run. ID and StartedAt are filled in when
// empty.
func (s *sqlStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = generateID()
	}
	if run.StartedAt == "" {
		run.StartedAt = now()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	_, err := s.exec(ctx, `
		INSERT INTO runs (id, network, chain_id, account, status, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Network, run.ChainID, run.Account, run.Status, run.Error, run.StartedAt)
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// FinishRun sets the terminal status of a run
func (s *sqlStore) FinishRun(ctx context.Context, id, status, errMsg string) error {
	res, err := s.exec(ctx, `UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`, status, errMsg, now(), id)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, network, chain_id, account, status, error, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	var errMsg, finished sql.NullString
	if err := row.Scan(&r.ID, &r.Network, &r.ChainID, &r.Account, &r.Status, &errMsg, &r.StartedAt, &finished); err != nil {
		return Run{}, err
	}
	r.Error, r.FinishedAt = errMsg.String, finished.String
	return r, nil
}

// GetRun retrieves a run by ID
func (s *sqlStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns lists runs, most recent first
func (s *sqlStore) ListRuns(ctx context.Context, pagination PaginationParams) (*PaginatedResult[Run], error) {
	if pagination.Limit <= 0 {
		pagination.Limit = 20
	}
	rows, err := s.query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, seq DESC LIMIT ? OFFSET ?`,
		pagination.Limit+1, pagination.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(runs) > pagination.Limit
	if hasMore {
		runs = runs[:pagination.Limit]
	}
	return &PaginatedResult[Run]{Data: runs, HasMore: hasMore}, nil
}

// RecordDeployment records a registry entry
func (s *sqlStore) RecordDeployment(ctx context.Context, d *Deployment) error {
	if d.ID == "" {
		d.ID = generateID()
	}
	d.CreatedAt = now()
	_, err := s.exec(ctx, `
		INSERT INTO deployments (id, run_id, contract, address, fresh, tx_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.RunID, d.Contract, d.Address, d.Fresh, d.TxHash, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording deployment of %s: %w", d.Contract, err)
	}
	return nil
}

// ListDeployments lists a run's registry entries in the order they were recorded
func (s *sqlStore) ListDeployments(ctx context.Context, runID string) ([]Deployment, error) {
	rows, err := s.query(ctx, `
		SELECT id, run_id, contract, address, fresh, tx_hash, created_at
		FROM deployments WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(&d.ID, &d.RunID, &d.Contract, &d.Address, &d.Fresh, &d.TxHash, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordWiringCall records a wiring call
func (s *sqlStore) RecordWiringCall(ctx context.Context, w *WiringCall) error {
	if w.ID == "" {
		w.ID = generateID()
	}
	w.CreatedAt = now()
	_, err := s.exec(ctx, `
		INSERT INTO wiring_calls (id, run_id, step, status, tx_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.ID, w.RunID, w.Step, w.Status, w.TxHash, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording wiring call %s: %w", w.Step, err)
	}
	return nil
}

// ListWiringCalls lists a run's wiring calls in order
func (s *sqlStore) ListWiringCalls(ctx context.Context, runID string) ([]WiringCall, error) {
	rows, err := s.query(ctx, `
		SELECT id, run_id, step, status, tx_hash, created_at
		FROM wiring_calls WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WiringCall
	for rows.Next() {
		var w WiringCall
		if err := rows.Scan(&w.ID, &w.RunID, &w.Step, &w.Status, &w.TxHash, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RecordVerification records a verification outcome
func (s *sqlStore) RecordVerification(ctx context.Context, v *Verification) error {
	if v.ID == "" {
		v.ID = generateID()
	}
	v.CreatedAt = now()
	_, err := s.exec(ctx, `
		INSERT INTO verifications (id, run_id, contract, address, outcome, reason, guid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.RunID, v.Contract, v.Address, v.Outcome, v.Reason, v.GUID, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording verification of %s: %w", v.Contract, err)
	}
	return nil
}

// ListVerifications lists a run's verification outcomes in order
func (s *sqlStore) ListVerifications(ctx context.Context, runID string) ([]Verification, error) {
	rows, err := s.query(ctx, `
		SELECT id, run_id, contract, address, outcome, reason, guid, created_at
		FROM verifications WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		var v Verification
		if err := rows.Scan(&v.ID, &v.RunID, &v.Contract, &v.Address, &v.Outcome, &v.Reason, &v.GUID, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
