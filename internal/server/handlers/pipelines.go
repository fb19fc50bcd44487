package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"rustci/internal/jobs"
	"rustci/internal/pipeline"
	"rustci/internal/store"
	"rustci/pkg/api"
)

// RunPipeline handles POST /pipelines.
// An empty job list runs the default pipeline (test, then build). The
// response lists every executed job, including the failing one.
func (h *Handlers) RunPipeline(w http.ResponseWriter, r *http.Request) {
	var req api.RunPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ref, err := parseSource(req.Src)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	preq := pipeline.Request{
		Source:  ref,
		Jobs:    req.Jobs,
		Options: make(map[string]jobs.Options),
	}
	// Artifacts stay in the snapshot store; requests never write to the
	// server's working directory.
	for _, name := range h.driver.Registry().Names() {
		o := req.Options[name]
		preq.Options[name] = jobs.Options{PackageName: o.PackageName, Target: o.Target, Args: o.Args, NoExport: true}
	}

	report, runErr := h.driver.Run(r.Context(), preq)

	resp := api.RunPipelineResponse{
		RunID:   report.RunID.String(),
		Mode:    string(report.Mode),
		Status:  string(store.RunStatusSucceeded),
		Results: []api.JobResult{},
	}
	for _, o := range report.Outcomes {
		resp.Results = append(resp.Results, toJobResult(o.Job, o.Result, o.Err, o.Duration))
	}

	code := http.StatusOK
	if runErr != nil {
		msg := runErr.Error()
		resp.Status = string(store.RunStatusFailed)
		resp.Error = &msg
		code = statusFor(runErr)
	}
	h.respondJson(w, code, resp)
}
