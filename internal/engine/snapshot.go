package engine

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Snapshots is a content-addressed store of directory and file snapshots.
// Identical trees always produce the same identifier.
type Snapshots struct {
	Root string
}

// NewSnapshots creates a store rooted at root.
func NewSnapshots(root string) (*Snapshots, error) {
	for _, sub := range []string{"dirs", "files", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot store: %w", err)
		}
	}
	return &Snapshots{Root: root}, nil
}

// PutDirectory copies src (minus exclude) into the store.
func (s *Snapshots) PutDirectory(src string, exclude []string) (DirectoryID, error) {
	tmp, err := os.MkdirTemp(filepath.Join(s.Root, "tmp"), "dir-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	staged := filepath.Join(tmp, "tree")
	if err := CopyTree(src, staged, exclude); err != nil {
		return "", err
	}

	dgst, err := digestTree(staged)
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", src, err)
	}

	dest := filepath.Join(s.Root, "dirs", dgst.Encoded())
	if _, err := os.Stat(dest); err == nil {
		return DirectoryID(directoryIDPrefix + dgst.String()), nil
	}
	if err := os.Rename(staged, dest); err != nil {
		// Lost a race with a concurrent writer of the same tree.
		if _, statErr := os.Stat(dest); statErr != nil {
			return "", fmt.Errorf("failed to store snapshot: %w", err)
		}
	}
	return DirectoryID(directoryIDPrefix + dgst.String()), nil
}

// PutFile copies a single file into the store.
func (s *Snapshots) PutFile(src string) (FileID, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()

	dgst, err := digest.Canonical.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", src, err)
	}

	dest := filepath.Join(s.Root, "files", dgst.Encoded())
	if _, err := os.Stat(dest); err != nil {
		if err := copyFile(src, dest); err != nil {
			return "", fmt.Errorf("failed to store file snapshot: %w", err)
		}
	}
	return FileID(fileIDPrefix + dgst.String()), nil
}

// Directory returns the store path of a directory snapshot.
func (s *Snapshots) Directory(id DirectoryID) (string, error) {
	dgst, err := parseID(string(id), directoryIDPrefix)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Root, "dirs", dgst.Encoded())
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	return path, nil
}

// File returns the store path of a file snapshot.
func (s *Snapshots) File(id FileID) (string, error) {
	dgst, err := parseID(string(id), fileIDPrefix)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Root, "files", dgst.Encoded())
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	return path, nil
}

// ExportFile copies a file snapshot to dest.
func (s *Snapshots) ExportFile(id FileID, dest string) error {
	src, err := s.File(id)
	if err != nil {
		return err
	}
	return copyFile(src, dest)
}

// ExportDirectory copies a directory snapshot to dest.
func (s *Snapshots) ExportDirectory(id DirectoryID, dest string) error {
	src, err := s.Directory(id)
	if err != nil {
		return err
	}
	return CopyTree(src, dest, nil)
}

// ValidateDirectoryID reports ErrInvalidID unless id is the directory prefix
// followed by a well-formed digest. It does not check that the snapshot exists.
func ValidateDirectoryID(id DirectoryID) error {
	_, err := parseID(string(id), directoryIDPrefix)
	return err
}

func parseID(id, prefix string) (digest.Digest, error) {
	raw, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dgst, err := digest.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidID, id, err)
	}
	return dgst, nil
}

// digestTree hashes relative paths, types, permissions and contents in
// lexical walk order.
func digestTree(root string) (digest.Digest, error) {
	digester := digest.Canonical.Digester()
	h := digester.Hash()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s\x00%s\x00", filepath.ToSlash(rel), info.Mode().String())

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			io.WriteString(h, target)
		case info.Mode().IsRegular():
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(h, f)
			f.Close()
			if err != nil {
				return err
			}
		}
		h.Write([]byte{0})
		return nil
	})
	if err != nil {
		return "", err
	}
	return digester.Digest(), nil
}
