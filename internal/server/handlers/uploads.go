package handlers

import (
	"net/http"
	"os"

	"rustci/internal/engine"
	"rustci/internal/logger"
	"rustci/pkg/api"
)

// Upload handles POST /uploads.
// The body is a (gzip) tar of a source tree; it is snapshotted and the
// directory ID returned so later requests can pass it as src.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	staging, err := os.MkdirTemp("", "rustci-upload-*")
	if err != nil {
		h.httpError(w, "Failed to stage upload", http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(staging)

	if err := engine.Untar(body, staging); err != nil {
		h.httpError(w, "Invalid archive", http.StatusBadRequest)
		return
	}

	id, err := h.client.DirectoryID(ctx, engine.Directory{Path: staging})
	if err != nil {
		logger.FromContext(ctx, h.logger).Error("failed to snapshot upload", "error", err)
		h.httpError(w, "Failed to store upload", http.StatusInternalServerError)
		return
	}

	logger.FromContext(ctx, h.logger).Info("upload stored", "directory_id", id)
	h.respondJson(w, http.StatusCreated, api.UploadResponse{DirectoryID: string(id)})
}
