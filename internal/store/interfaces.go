package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// RunStore persists pipeline run history.
type RunStore interface {
	// CreateRun inserts a run in RUNNING state.
	CreateRun(ctx context.Context, run *Run) error

	// AddJobResult appends the outcome of one job to a run.
	AddJobResult(ctx context.Context, result *JobResult) error

	// FinishRun moves a run to its terminal state.
	FinishRun(ctx context.Context, runID uuid.UUID, status RunStatus, errMsg *string) error

	// GetRun returns a run with its job results in execution order.
	GetRun(ctx context.Context, runID uuid.UUID) (*Run, error)
}
