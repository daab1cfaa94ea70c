package util

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// PartSuffix marks files that are still being written
const PartSuffix = ".part"

// AtomicFile writes to <path>.part and renames it into place on Commit.
// Readers never observe a partially written file under the final name.
type AtomicFile struct {
	file    *os.File
	path    string
	tmpPath string
	written int64
	done    bool
}

// CreateAtomic creates the parent directory and a fresh .part file for path.
// A stale .part left by an earlier failed run is truncated.
func CreateAtomic(path string) (*AtomicFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + PartSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	return &AtomicFile{file: f, path: path, tmpPath: tmpPath}, nil
}

// Write implements io.Writer
func (a *AtomicFile) Write(p []byte) (int, error) {
	n, err := a.file.Write(p)
	a.written += int64(n)
	return n, err
}

// Path returns the final destination path
func (a *AtomicFile) Path() string {
	return a.path
}

// Written returns the number of bytes written so far
func (a *AtomicFile) Written() int64 {
	return a.written
}

// Commit syncs, closes and renames the temp file into place
func (a *AtomicFile) Commit() error {
	if a.done {
		return nil
	}
	a.done = true

	if err := a.file.Sync(); err != nil {
		a.file.Close()
		os.Remove(a.tmpPath)
		return fmt.Errorf("failed to sync %s: %w", a.tmpPath, err)
	}
	if err := a.file.Close(); err != nil {
		os.Remove(a.tmpPath)
		return fmt.Errorf("failed to close %s: %w", a.tmpPath, err)
	}
	if err := os.Rename(a.tmpPath, a.path); err != nil {
		os.Remove(a.tmpPath)
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}

// Abort discards the temp file. Safe to call after Commit.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.file.Close()
	os.Remove(a.tmpPath)
}

// FileSHA1 computes the SHA1 of a file's content
func FileSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// FileSize returns the size of a regular file and whether it exists
func FileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

// FormatBytes formats bytes in human-readable format
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return humanize.IBytes(uint64(bytes))
}
