// Package filestore provides small, dependency-free helpers for durable
// single-writer JSON persistence: atomic temp-file-plus-rename writes, path
// resolution, and directory creation. Every on-disk backend in this module
// (the file-backed queue store, the process supervisor's status file) goes
// through AtomicWrite so a crash mid-write never leaves a torn file behind.
package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands a leading "~" to the user's home directory and any
// "$VAR"/"${VAR}" environment references, then cleans the result.
func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}

// EnsureDir creates dir (and parents) if absent.
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// EnsureParentDir creates the parent directory of path if absent.
func EnsureParentDir(path string) error {
	return EnsureDir(filepath.Dir(path))
}

// MarshalJSONIndent marshals v as two-space-indented JSON, matching the
// on-disk format every JSON config and state file in this module uses.
func MarshalJSONIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// AtomicWrite writes data to path by first writing to a sibling temp file in
// the same directory, fsyncing it, then renaming it over path. The rename is
// atomic on POSIX filesystems, so a reader never observes a partially
// written file and a crash mid-write leaves the original file (or nothing)
// intact, never a torn one.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	if err := EnsureParentDir(path); err != nil {
		return fmt.Errorf("filestore: ensure parent dir for %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("filestore: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("filestore: rename temp file into place: %w", err)
	}
	cleanup = false
	return nil
}

// ReadFileOrEmpty reads path, returning (nil, nil) instead of an error when
// the file does not exist yet — the common "first run" case for state files.
func ReadFileOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	return data, nil
}
