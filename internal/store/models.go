// Package store contains the run history layer for rustci.
package store

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the state of a pipeline run or of one of its jobs.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Run is one pipeline invocation.
type Run struct {
	ID           uuid.UUID
	Mode         string // default or selective
	Source       string
	Jobs         []string
	Status       RunStatus
	ErrorMessage *string
	StartedAt    time.Time
	FinishedAt   *time.Time

	// Results is populated by GetRun.
	Results []JobResult
}

// JobResult is the outcome of one job within a run.
type JobResult struct {
	ID           int64
	RunID        uuid.UUID
	Job          string
	Status       RunStatus
	Output       string // stdout or artifact identifier
	ErrorMessage *string
	Duration     time.Duration
	StartedAt    time.Time
}
