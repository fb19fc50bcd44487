package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"rustci/internal/jobs"
	"rustci/internal/logger"
	"rustci/pkg/api"
)

// ListJobs handles GET /jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	reg := h.driver.Registry()
	descriptions := reg.Descriptions()

	resp := api.ListJobsResponse{Jobs: []api.JobInfo{}}
	for _, name := range reg.Names() {
		resp.Jobs = append(resp.Jobs, api.JobInfo{Name: name, Description: descriptions[name]})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// RunJob handles POST /jobs/{name}.
// It runs one job synchronously and returns its output.
func (h *Handlers) RunJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	var req api.RunJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ref, err := parseSource(req.Src)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := jobs.Options{
		PackageName: req.PackageName,
		Target:      req.Target,
		Args:        req.Options,
		NoExport:    true,
	}

	start := time.Now()
	res, err := h.driver.RunJob(ctx, name, ref, opts)
	result := toJobResult(name, res, err, time.Since(start))
	if err != nil {
		logger.FromContext(ctx, h.logger).Warn("job request failed", "job", name, "error", err)
		code := statusFor(err)
		if code == http.StatusUnprocessableEntity {
			h.respondJson(w, code, result)
			return
		}
		h.httpError(w, err.Error(), code)
		return
	}
	h.respondJson(w, http.StatusOK, result)
}
