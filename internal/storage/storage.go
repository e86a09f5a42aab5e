package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/contradeploy/internal/config"
)

// Run statuses
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunStore handles pipeline run records
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id, status, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, pagination PaginationParams) (*PaginatedResult[Run], error)
}

// DeploymentStore handles registry entries produced by a run
type DeploymentStore interface {
	RecordDeployment(ctx context.Context, d *Deployment) error
	ListDeployments(ctx context.Context, runID string) ([]Deployment, error)
}

// WiringStore handles wiring calls issued by a run
type WiringStore interface {
	RecordWiringCall(ctx context.Context, w *WiringCall) error
	ListWiringCalls(ctx context.Context, runID string) ([]WiringCall, error)
}

// VerificationStore handles verification outcomes of a run
type VerificationStore interface {
	RecordVerification(ctx context.Context, v *Verification) error
	ListVerifications(ctx context.Context, runID string) ([]Verification, error)
}

// Store combines all storage interfaces with lifecycle methods.
// Consumers define their own minimal interfaces based on their actual usage.
type Store interface {
	RunStore
	DeploymentStore
	WiringStore
	VerificationStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Run is one invocation of the pipeline
type Run struct {
	ID         string `json:"id"`
	Network    string `json:"network"`
	ChainID    int64  `json:"chainId"`
	Account    string `json:"account"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// Deployment is a registry entry recorded by a run
type Deployment struct {
	ID        string `json:"id"`
	RunID     string `json:"runId"`
	Contract  string `json:"contract"`
	Address   string `json:"address"`
	Fresh     bool   `json:"fresh"`
	TxHash    string `json:"txHash,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// WiringCall is an administrative call made (or skipped) by a run
type WiringCall struct {
	ID        string `json:"id"`
	RunID     string `json:"runId"`
	Step      string `json:"step"`
	Status    string `json:"status"`
	TxHash    string `json:"txHash,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// Verification is a verification outcome recorded by a run
type Verification struct {
	ID        string `json:"id"`
	RunID     string `json:"runId"`
	Contract  string `json:"contract"`
	Address   string `json:"address"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	GUID      string `json:"guid,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"hasMore"`
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
