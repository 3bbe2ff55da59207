package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rohmanhakim/antibot-acquire/pkg/failure"
)

// GetFileExtension extracts the file extension from a path, or empty string if none
func GetFileExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	// Remove the leading dot
	return strings.TrimPrefix(ext, ".")
}

// EnsureDir check if a given directory plus the following path exist, then create one if not
func EnsureDir(dir string, path ...string) failure.ClassifiedError {
	targetPath := []string{dir}
	targetPath = append(targetPath, path...)

	assetsDir := filepath.Join(targetPath...)
	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCausePathError,
		}
	}
	return nil
}

// AtomicRename replaces dst with src in one filesystem operation, so a
// reader never observes a partially-written dst. Both paths must be on the
// same filesystem for the rename to be atomic (os.Rename's own guarantee).
func AtomicRename(src, dst string) failure.ClassifiedError {
	if err := os.Rename(src, dst); err != nil {
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCausePathError,
		}
	}
	return nil
}

// Lock is a file-backed advisory lock: the holder's PID is written to path.
// It does not use flock — callers coordinate by checking for the file's
// existence before creating it with O_EXCL, matching the PID-file
// convention used by the rest of the persisted-state layout.
type Lock struct {
	path string
}

// AcquireLock creates path exclusively and writes the current PID into it.
// Returns a FileError (non-retryable) if the lock is already held.
func AcquireLock(path string) (*Lock, failure.ClassifiedError) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &FileError{
			Message:   fmt.Sprintf("lock held: %v", err),
			Retryable: false,
			Cause:     ErrCauseLockHeld,
		}
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return nil, &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCausePathError,
		}
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
