// Package rotation bounds the number of snapshot files kept in a directory.
package rotation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"tabsnap/internal/manifest"
)

// File is a snapshot file and its modification time.
type File struct {
	Path    string
	ModTime time.Time
}

// Collect returns every file in dir that follows the snapshot naming
// convention. A missing directory yields no files.
func Collect(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var files []File
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, _, ok := manifest.ParseFileName(e.Name()); !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Path:    filepath.Join(dir, e.Name()),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

// Rotate keeps the keep most recently modified files and deletes the rest.
// Ties on modification time keep the file with the later name. A keep of
// zero or less deletes every file; callers that treat zero as "rotation off"
// must not call Rotate. Deletion failures are logged and the file is skipped.
// It returns the paths that were removed.
func Rotate(files []File, keep int, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	if keep < 0 {
		keep = 0
	}
	if len(files) <= keep {
		return nil
	}

	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ModTime.Equal(sorted[j].ModTime) {
			return sorted[i].ModTime.After(sorted[j].ModTime)
		}
		return filepath.Base(sorted[i].Path) > filepath.Base(sorted[j].Path)
	})

	var removed []string
	for _, f := range sorted[keep:] {
		if err := os.Remove(f.Path); err != nil {
			logger.Warn("Failed to delete old snapshot", "path", f.Path, "error", err)
			continue
		}
		logger.Info("Deleted old snapshot", "path", f.Path, "modified", f.ModTime.Format(time.RFC3339))
		removed = append(removed, f.Path)
	}
	return removed
}
