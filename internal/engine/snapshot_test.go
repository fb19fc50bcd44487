package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshots_DirectoryRoundTrip(t *testing.T) {
	e := newTestLocalEngine(t)
	ctx := context.Background()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "src", "main.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(src, "Cargo.toml"), "[package]\nname = \"demo\"\n")

	direct, err := e.HostDirectory(ctx, src)
	if err != nil {
		t.Fatalf("HostDirectory failed: %v", err)
	}
	id, err := e.DirectoryID(ctx, direct)
	if err != nil {
		t.Fatalf("DirectoryID failed: %v", err)
	}
	if !IsDirectoryID(string(id)) {
		t.Fatalf("expected directory id, got %s", id)
	}

	loaded, err := e.LoadDirectory(ctx, id)
	if err != nil {
		t.Fatalf("LoadDirectory failed: %v", err)
	}
	if loaded.ID != id {
		t.Errorf("expected loaded handle to carry %s, got %s", id, loaded.ID)
	}

	directDigest, err := digestTree(direct.Path)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	loadedDigest, err := digestTree(loaded.Path)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if directDigest != loadedDigest {
		t.Errorf("round trip changed contents: %s != %s", directDigest, loadedDigest)
	}
}

func TestSnapshots_SameTreeSameID(t *testing.T) {
	snaps, err := NewSnapshots(t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshots failed: %v", err)
	}

	a, b := t.TempDir(), t.TempDir()
	for _, dir := range []string{a, b} {
		writeFile(t, filepath.Join(dir, "lib.rs"), "pub fn f() {}\n")
	}

	idA, err := snaps.PutDirectory(a, nil)
	if err != nil {
		t.Fatalf("PutDirectory failed: %v", err)
	}
	idB, err := snaps.PutDirectory(b, nil)
	if err != nil {
		t.Fatalf("PutDirectory failed: %v", err)
	}
	if idA != idB {
		t.Errorf("expected identical trees to share an id: %s != %s", idA, idB)
	}

	writeFile(t, filepath.Join(b, "lib.rs"), "pub fn g() {}\n")
	idC, err := snaps.PutDirectory(b, nil)
	if err != nil {
		t.Fatalf("PutDirectory failed: %v", err)
	}
	if idC == idA {
		t.Error("expected changed tree to get a new id")
	}
}

func TestSnapshots_ExcludeChangesID(t *testing.T) {
	snaps, err := NewSnapshots(t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshots failed: %v", err)
	}

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "lib.rs"), "pub fn f() {}\n")
	clean, err := snaps.PutDirectory(src, nil)
	if err != nil {
		t.Fatalf("PutDirectory failed: %v", err)
	}

	writeFile(t, filepath.Join(src, "target", "debug", "lib.rlib"), "object")
	excluded, err := snaps.PutDirectory(src, []string{"target"})
	if err != nil {
		t.Fatalf("PutDirectory failed: %v", err)
	}
	if excluded != clean {
		t.Errorf("expected excluded build output not to affect id: %s != %s", excluded, clean)
	}
}

func TestSnapshots_FileExport(t *testing.T) {
	snaps, err := NewSnapshots(t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshots failed: %v", err)
	}

	src := filepath.Join(t.TempDir(), "lcov.info")
	writeFile(t, src, "TN:\nend_of_record\n")

	id, err := snaps.PutFile(src)
	if err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "nested", "lcov.info")
	if err := snaps.ExportFile(id, dest); err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "TN:\nend_of_record\n" {
		t.Errorf("unexpected exported content %q", data)
	}
}

func TestSnapshots_InvalidAndUnknownIDs(t *testing.T) {
	snaps, err := NewSnapshots(t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshots failed: %v", err)
	}

	tests := []struct {
		name string
		id   DirectoryID
		want error
	}{
		{"no prefix", "sha256:abc", ErrInvalidID},
		{"bad digest", "core.Directory:not-a-digest", ErrInvalidID},
		{"file id", "core.File:sha256:0000000000000000000000000000000000000000000000000000000000000000", ErrInvalidID},
		{"unknown", "core.Directory:sha256:0000000000000000000000000000000000000000000000000000000000000000", ErrUnknownID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := snaps.Directory(tt.id)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateDirectoryID(t *testing.T) {
	tests := []struct {
		id    DirectoryID
		valid bool
	}{
		{"core.Directory:sha256:0000000000000000000000000000000000000000000000000000000000000000", true},
		{"core.Directory:../../etc", false},
		{"core.Directory:sha256:short", false},
		{"core.File:sha256:0000000000000000000000000000000000000000000000000000000000000000", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			err := ValidateDirectoryID(tt.id)
			if tt.valid && err != nil {
				t.Errorf("expected valid id, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidID) {
				t.Errorf("expected ErrInvalidID, got %v", err)
			}
		})
	}
}
