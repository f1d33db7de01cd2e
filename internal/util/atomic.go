package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const (
	renameAttempts = 5
	renameBackoff  = 100 * time.Millisecond
)

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it into place. Readers see either the old file or the complete new
// one.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := renameWithRetry(tmpName, path); err != nil {
		return err
	}
	committed = true

	syncDir(dir)
	return nil
}

func renameWithRetry(src, dst string) error {
	var lastErr error
	for attempt := 1; attempt <= renameAttempts; attempt++ {
		err := os.Rename(src, dst)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return fmt.Errorf("rename failed permanently: %w", err)
		}
		if attempt < renameAttempts {
			time.Sleep(renameBackoff * (1 << (attempt - 1)))
		}
	}
	return fmt.Errorf("rename failed after %d retries: %w", renameAttempts, lastErr)
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// syncDir flushes the directory entry after a rename. Errors are ignored on
// filesystems that do not support syncing directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
