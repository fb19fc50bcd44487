// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the session uploader and the server.
package api

import "time"

// JobInfo describes one registered job.
type JobInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListJobsResponse is the response body of GET /jobs.
type ListJobsResponse struct {
	Jobs []JobInfo `json:"jobs"`
}

// RunJobRequest is the request body for running a single job.
type RunJobRequest struct {
	// Src is a path relative to the server source root or a directory ID.
	Src         string   `json:"src,omitempty"`
	PackageName string   `json:"package_name,omitempty"`
	Target      string   `json:"target,omitempty"`
	Options     []string `json:"options,omitempty"`
}

// JobResult is the outcome of one job.
type JobResult struct {
	Job    string `json:"job"`
	Status string `json:"status"`
	Kind   string `json:"kind,omitempty"`

	// Output is stdout for the test job, the artifact identifier otherwise.
	Output     string  `json:"output,omitempty"`
	Error      *string `json:"error,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

// RunPipelineRequest is the request body for POST /pipelines.
type RunPipelineRequest struct {
	Src string `json:"src,omitempty"`

	// Jobs selects jobs in order. Empty runs test then build.
	Jobs []string `json:"jobs,omitempty"`

	// Options are keyed by job name.
	Options map[string]JobOptions `json:"options,omitempty"`
}

// JobOptions are the per-job parameters of a pipeline request.
type JobOptions struct {
	PackageName string   `json:"package_name,omitempty"`
	Target      string   `json:"target,omitempty"`
	Args        []string `json:"args,omitempty"`
}

// RunPipelineResponse is the response body of POST /pipelines.
type RunPipelineResponse struct {
	RunID   string      `json:"run_id"`
	Mode    string      `json:"mode"`
	Status  string      `json:"status"`
	Results []JobResult `json:"results"`
	Error   *string     `json:"error,omitempty"`
}

// RunResponse is a recorded run returned by GET /runs/{id}.
type RunResponse struct {
	ID         string      `json:"id"`
	Mode       string      `json:"mode"`
	Source     string      `json:"source"`
	Jobs       []string    `json:"jobs"`
	Status     string      `json:"status"`
	Error      *string     `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Results    []JobResult `json:"results"`
}

// UploadResponse is returned after a session upload.
type UploadResponse struct {
	DirectoryID string `json:"directory_id"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
