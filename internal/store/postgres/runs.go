package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"rustci/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateRun inserts a new run row. Jobs are stored as a TEXT[] column.
func (s *Store) CreateRun(ctx context.Context, run *store.Run) error {
	query := `
		INSERT INTO runs (id, mode, source, jobs, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Mode,
		run.Source,
		pq.Array(run.Jobs),
		run.Status,
		run.StartedAt,
	)
	return err
}

// AddJobResult appends a job outcome to its run.
func (s *Store) AddJobResult(ctx context.Context, result *store.JobResult) error {
	query := `
		INSERT INTO job_results (run_id, job, status, output, error_message, duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query,
		result.RunID,
		result.Job,
		result.Status,
		result.Output,
		result.ErrorMessage,
		result.Duration.Milliseconds(),
		result.StartedAt,
	).Scan(&result.ID)
}

// FinishRun sets the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, status store.RunStatus, errMsg *string) error {
	query := `UPDATE runs SET status = $2, error_message = $3, finished_at = $4 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, runID, status, errMsg, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrRunNotFound
	}
	return nil
}

// GetRun reads a run and its job results from one read-only transaction.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*store.Run, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		SELECT id, mode, source, jobs, status, error_message, started_at, finished_at
		FROM runs WHERE id = $1
	`
	var run store.Run
	err = tx.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.Mode, &run.Source, pq.Array(&run.Jobs),
		&run.Status, &run.ErrorMessage, &run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Results, err = s.listJobResults(ctx, tx, runID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) listJobResults(ctx context.Context, tx store.DBTransaction, runID uuid.UUID) ([]store.JobResult, error) {
	query := `
		SELECT id, run_id, job, status, output, error_message, duration_ms, started_at
		FROM job_results
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := s.getExecutor(tx).QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []store.JobResult
	for rows.Next() {
		var r store.JobResult
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Job, &r.Status, &r.Output, &r.ErrorMessage, &durationMS, &r.StartedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, r)
	}
	return results, rows.Err()
}
