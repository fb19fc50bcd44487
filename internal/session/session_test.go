package session

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"rustci/internal/engine"
	"rustci/pkg/api"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestUpload_SendsFilteredArchive(t *testing.T) {
	root := writeTree(t, map[string]string{
		"Cargo.toml":      "[package]",
		"src/lib.rs":      "",
		"target/debug/x":  "bin",
		".git/HEAD":       "ref",
		".fluentci/a.ts":  "",
		".devbox/profile": "",
	})

	var names []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/uploads" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", got)
		}
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Fatalf("expected gzip body: %v", err)
		}
		tr := tar.NewReader(gz)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("bad tar: %v", err)
			}
			names = append(names, strings.TrimPrefix(hdr.Name, "./"))
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.UploadResponse{DirectoryID: "core.Directory:sha256:abc"})
	}))
	defer srv.Close()

	u := NewHTTPUploader(srv.URL+"/", "secret")
	id, err := u.Upload(context.Background(), engine.Directory{Path: root})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if id != "core.Directory:sha256:abc" {
		t.Errorf("expected directory id, got %q", id)
	}

	sort.Strings(names)
	for _, n := range names {
		for _, excluded := range []string{"target", ".git", ".fluentci", ".devbox"} {
			if n == excluded || strings.HasPrefix(n, excluded+"/") {
				t.Errorf("excluded path %q was uploaded", n)
			}
		}
	}
	if !contains(names, "Cargo.toml") || !contains(names, "src/lib.rs") {
		t.Errorf("expected source files in archive, got %v", names)
	}
}

func TestUpload_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "invalid token"})
	}))
	defer srv.Close()

	u := NewHTTPUploader(srv.URL, "")
	_, err := u.Upload(context.Background(), engine.Directory{Path: writeTree(t, map[string]string{"a": "b"})})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid token") {
		t.Errorf("expected status and message in error, got %v", err)
	}
}

func TestUpload_MissingDirectoryID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	u := NewHTTPUploader(srv.URL, "")
	if _, err := u.Upload(context.Background(), engine.Directory{Path: t.TempDir()}); err == nil {
		t.Error("expected error for empty directory id")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
