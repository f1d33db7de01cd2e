// Package catalog enumerates, inspects and deletes snapshot files in a
// directory.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"tabsnap/internal/manifest"
	"tabsnap/internal/snapid"
)

type Catalog struct {
	dir    string
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{dir: dir, logger: logger}
}

func (c *Catalog) Dir() string {
	return c.dir
}

// List returns the metadata of every readable snapshot, newest first.
// Files whose metadata cannot be read are skipped. A missing directory is an
// empty catalog.
func (c *Catalog) List() ([]manifest.Metadata, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var out []manifest.Metadata
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, _, ok := manifest.ParseFileName(e.Name()); !ok {
			continue
		}
		meta := c.GetInfo(filepath.Join(c.dir, e.Name()))
		if meta == nil {
			continue
		}
		out = append(out, *meta)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// GetInfo reads the metadata of the snapshot at path. It returns nil for a
// missing, malformed or truncated file.
func (c *Catalog) GetInfo(path string) *manifest.Metadata {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.logger.Debug("Snapshot not readable", "path", path, "error", err)
		return nil
	}

	meta, err := manifest.ReadMetadata(path)
	if err != nil {
		c.logger.Debug("Skipping unreadable snapshot", "path", path, "error", err)
		return nil
	}

	if id, compressed, ok := manifest.ParseFileName(filepath.Base(path)); ok {
		if meta.ID == "" {
			meta.ID = id
		}
		meta.Compressed = meta.Compressed || compressed
	}
	meta.Path = path
	meta.SizeBytes = info.Size()
	return meta
}

// Find returns the path of snapshot id, preferring the uncompressed file.
func (c *Catalog) Find(id string) (string, bool) {
	if !snapid.Valid(id) {
		return "", false
	}
	for _, compressed := range []bool{false, true} {
		path := filepath.Join(c.dir, manifest.FileName(id, compressed))
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// Delete removes every file of snapshot id. It reports whether anything was
// removed; an unknown id is not an error.
func (c *Catalog) Delete(id string) bool {
	if !snapid.Valid(id) {
		return false
	}
	removed := false
	for _, compressed := range []bool{false, true} {
		path := filepath.Join(c.dir, manifest.FileName(id, compressed))
		err := os.Remove(path)
		switch {
		case err == nil:
			c.logger.Info("Deleted snapshot", "id", id, "path", path)
			removed = true
		case !os.IsNotExist(err):
			c.logger.Warn("Failed to delete snapshot", "id", id, "path", path, "error", err)
		}
	}
	return removed
}
