// Package atomicfile implements the write-temp-fsync-rename pattern spec §6
// requires for every persisted state file (auth.json, sessions.json,
// containers.json, plugins.json, linear-projects.json).
package atomicfile

import (
	"os"
	"path/filepath"
)

// Write atomically replaces the file at path with data. It writes to a
// temporary sibling file, fsyncs it, then renames it over path — a rename
// within the same directory is atomic on POSIX filesystems, so readers
// never observe a partially written file.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	// Ensure the temp file is cleaned up on any failure path below.
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	succeeded = true
	return nil
}

// ReadOrEmpty reads path, returning nil with no error if it does not exist.
// Corrupt JSON state files are treated as empty per spec §7; callers are
// responsible for interpreting "empty" for their own format.
func ReadOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
