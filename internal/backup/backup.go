// Package backup writes snapshots of the registered tables.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tabsnap/internal/checksum"
	"tabsnap/internal/codec"
	"tabsnap/internal/config"
	"tabsnap/internal/lock"
	"tabsnap/internal/manifest"
	"tabsnap/internal/registry"
	"tabsnap/internal/rotation"
	"tabsnap/internal/snapid"
	"tabsnap/internal/store"
	"tabsnap/internal/util"
)

var (
	// ErrExists is returned when a snapshot with the same id is already on
	// disk, which happens when two snapshots are taken within one second.
	ErrExists = errors.New("snapshot already exists")

	// ErrNoTables is returned when none of the requested tables is registered.
	ErrNoTables = errors.New("no registered tables selected")
)

type Options struct {
	// Tables to export. Empty means every registered table.
	Tables   []string
	Compress bool
}

type Result struct {
	Metadata *manifest.Metadata
	Path     string
	// TableErrors lists tables exported empty because their scan failed,
	// as "<table>: <message>".
	TableErrors []string
	// Rotated lists snapshot files removed by rotation after the write.
	Rotated []string
}

type Writer struct {
	cfg    config.Backup
	store  store.Store
	reg    *registry.Registry
	now    func() time.Time
	logger *slog.Logger
}

func NewWriter(cfg config.Backup, st store.Store, reg *registry.Registry, now func() time.Time, logger *slog.Logger) *Writer {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{cfg: cfg, store: st, reg: reg, now: now, logger: logger}
}

// Write exports the selected tables into a new snapshot file and then
// applies rotation. The snapshot directory is locked for the whole call.
// Once started, a write is not cancelled by ctx; its values still reach the
// store.
func (w *Writer) Write(ctx context.Context, opts Options) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	tables := w.resolveTables(opts.Tables)
	if len(tables) == 0 {
		return nil, ErrNoTables
	}

	if err := util.SetupDirectories(w.cfg.Directory); err != nil {
		return nil, err
	}

	releaseLock, err := lock.Acquire(util.LockPath(w.cfg.Directory))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if err := releaseLock(); err != nil {
			w.logger.Warn("Failed to release lock", "error", err)
		}
	}()

	createdAt := w.now()
	id := snapid.New(createdAt)
	path := filepath.Join(w.cfg.Directory, manifest.FileName(id, opts.Compress))
	for _, compressed := range []bool{false, true} {
		existing := filepath.Join(w.cfg.Directory, manifest.FileName(id, compressed))
		if _, err := os.Stat(existing); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrExists, existing)
		}
	}

	w.logger.Info("Snapshot started", "id", id, "tables", len(tables), "compress", opts.Compress)

	data := make(map[string][]codec.Document, len(tables))
	counts := make(map[string]int, len(tables))
	var tableErrors []error
	total := 0
	for _, name := range tables {
		docs, err := w.exportTable(ctx, name)
		if err != nil {
			w.logger.Warn("Table export failed, writing it empty", "table", name, "error", err)
			tableErrors = append(tableErrors, fmt.Errorf("%s: %w", name, err))
			docs = []codec.Document{}
		}
		data[name] = docs
		counts[name] = len(docs)
		total += len(docs)
	}

	if len(tableErrors) == len(tables) {
		return nil, fmt.Errorf("failed to read any table: %w", errors.Join(tableErrors...))
	}

	payload, err := manifest.DataPayload(data)
	if err != nil {
		return nil, err
	}

	meta := &manifest.Metadata{
		ID:           id,
		CreatedAt:    createdAt,
		Version:      manifest.FormatVersion,
		Tables:       tables,
		TableCount:   len(tables),
		RecordCount:  total,
		RecordCounts: counts,
		Compressed:   opts.Compress,
		Checksum:     checksum.Sum(payload),
	}

	raw, err := manifest.Encode(&manifest.Document{Metadata: meta, Data: data}, opts.Compress)
	if err != nil {
		return nil, err
	}
	if err := manifest.WriteFile(path, raw); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	meta.Path = path
	meta.SizeBytes = int64(len(raw))

	w.logger.Info("Snapshot written", "path", path, "records", total, "bytes", meta.SizeBytes, "checksum", meta.Checksum)

	res := &Result{Metadata: meta, Path: path, Rotated: w.rotate()}
	for _, err := range tableErrors {
		res.TableErrors = append(res.TableErrors, err.Error())
	}
	return res, nil
}

func (w *Writer) exportTable(ctx context.Context, name string) ([]codec.Document, error) {
	tbl, _ := w.reg.Lookup(name)

	recs, err := w.store.Scan(ctx, name)
	if err != nil {
		return nil, err
	}

	docs := make([]codec.Document, 0, len(recs))
	for _, rec := range recs {
		docs = append(docs, codec.ToDocument(tbl, rec))
	}
	w.logger.Debug("Table exported", "table", name, "records", len(docs))
	return docs, nil
}

// resolveTables returns the registered tables among requested, in
// registration order. Unregistered names are dropped.
func (w *Writer) resolveTables(requested []string) []string {
	all := w.reg.AllTableNames()
	if len(requested) == 0 {
		return all
	}

	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		if !w.reg.Has(name) {
			w.logger.Warn("Ignoring unknown table", "table", name)
			continue
		}
		want[name] = true
	}

	var tables []string
	for _, name := range all {
		if want[name] {
			tables = append(tables, name)
		}
	}
	return tables
}

func (w *Writer) rotate() []string {
	if w.cfg.MaxSnapshots <= 0 {
		return nil
	}
	files, err := rotation.Collect(w.cfg.Directory)
	if err != nil {
		w.logger.Warn("Rotation skipped", "error", err)
		return nil
	}
	return rotation.Rotate(files, w.cfg.MaxSnapshots, w.logger)
}
