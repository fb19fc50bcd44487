package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/pkg/archive"
)

// TarDirectory streams root as a tar archive, skipping entries matched by
// the dockerignore-style exclude patterns.
func TarDirectory(root string, exclude []string) (io.ReadCloser, error) {
	rc, err := archive.TarWithOptions(root, &archive.TarOptions{
		ExcludePatterns: exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to tar %s: %w", root, err)
	}
	return rc, nil
}

// GzipDirectory is TarDirectory with gzip compression.
func GzipDirectory(root string, exclude []string) (io.ReadCloser, error) {
	rc, err := archive.TarWithOptions(root, &archive.TarOptions{
		ExcludePatterns: exclude,
		Compression:     archive.Gzip,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to tar %s: %w", root, err)
	}
	return rc, nil
}

// Untar extracts a (possibly compressed) tar stream into dest.
func Untar(r io.Reader, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return archive.Untar(r, dest, &archive.TarOptions{NoLchown: true})
}

// CopyTree copies src into dest honouring exclude patterns.
func CopyTree(src, dest string, exclude []string) error {
	rc, err := TarDirectory(src, exclude)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := Untar(rc, dest); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dest, err)
	}
	return nil
}

// copyFile copies a single regular file, creating parent directories.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
