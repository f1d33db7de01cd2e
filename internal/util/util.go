package util

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tabsnap/internal/logging"
)

const lockFileName = ".tabsnap.lock"

// LockPath returns the advisory lock file guarding a snapshot directory.
func LockPath(snapshotDir string) string {
	return filepath.Join(snapshotDir, lockFileName)
}

// LogPath returns the dated log file for timestamp.
func LogPath(logDir string, timestamp time.Time) string {
	return filepath.Join(logDir, timestamp.Format("2006-01-02")+".log")
}

func SetupDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func SetupLogging(logPath string, level slog.Level) (*slog.Logger, *os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger, logFile, err := logging.NewLogger(logPath, level)
	if err != nil {
		return nil, nil, err
	}

	return logger, logFile, nil
}
