// Package jsonutil holds the shared artifact JSON plumbing: pretty-printed
// writes that survive a crash mid-write, and tolerant reads.
package jsonutil

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// WriteFileAtomic marshals v as indented JSON and writes it via a temp file
// and rename in the target directory. Parent directories are created on
// demand.
func WriteFileAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadFile unmarshals the JSON document at path into dst. The bool reports
// whether the file existed.
func ReadFile(path string, dst any) (bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return true, err
	}
	return true, nil
}
