package handlers

import (
	"errors"
	"net/http"

	"rustci/internal/store"
	"rustci/pkg/api"

	"github.com/google/uuid"
)

// GetRun handles GET /runs/{id}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.httpError(w, "Run history is disabled", http.StatusNotImplemented)
		return
	}

	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	run, err := h.runs.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrRunNotFound) {
		h.httpError(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	resp := api.RunResponse{
		ID:         run.ID.String(),
		Mode:       run.Mode,
		Source:     run.Source,
		Jobs:       run.Jobs,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Results:    []api.JobResult{},
	}
	for _, jr := range run.Results {
		resp.Results = append(resp.Results, api.JobResult{
			Job:        jr.Job,
			Status:     string(jr.Status),
			Output:     jr.Output,
			Error:      jr.ErrorMessage,
			DurationMS: jr.Duration.Milliseconds(),
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}
