// Package session uploads a local source tree to a remote rustci server.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rustci/internal/engine"
	"rustci/internal/jobs"
	"rustci/pkg/api"
)

// HTTPUploader posts gzip tar streams to <BaseURL>/uploads.
type HTTPUploader struct {
	BaseURL string
	Token   string

	// Exclude defaults to the job exclusion set.
	Exclude []string

	httpClient *http.Client
}

// NewHTTPUploader creates an uploader for the session at baseURL.
func NewHTTPUploader(baseURL, token string) *HTTPUploader {
	return &HTTPUploader{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Exclude: jobs.Exclude,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Upload sends dir to the session and returns the directory ID the remote
// engine issued for it.
func (u *HTTPUploader) Upload(ctx context.Context, dir engine.Directory) (engine.DirectoryID, error) {
	body, err := engine.GzipDirectory(dir.Path, u.Exclude)
	if err != nil {
		return "", err
	}
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.BaseURL+"/uploads", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/gzip")
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", dir.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return "", fmt.Errorf("upload rejected with status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return "", fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}

	var out api.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if !engine.IsDirectoryID(out.DirectoryID) {
		return "", errors.New("upload response carries no directory id")
	}
	return engine.DirectoryID(out.DirectoryID), nil
}
