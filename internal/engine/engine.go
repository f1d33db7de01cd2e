// Package engine is the entry point for taking, restoring, listing and
// deleting snapshots. An Engine is built once per process from explicit
// collaborators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tabsnap/internal/backup"
	"tabsnap/internal/catalog"
	"tabsnap/internal/checksum"
	"tabsnap/internal/config"
	"tabsnap/internal/manifest"
	"tabsnap/internal/metrics"
	"tabsnap/internal/registry"
	"tabsnap/internal/remote"
	"tabsnap/internal/restore"
	"tabsnap/internal/store"
)

type Engine struct {
	cfg      config.Backup
	writer   *backup.Writer
	executor *restore.Executor
	catalog  *catalog.Catalog
	remote   remote.Backend
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Engine)

// WithClock sets the time source used for snapshot ids.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRemote uploads every new snapshot to b.
func WithRemote(b remote.Backend) Option {
	return func(e *Engine) {
		e.remote = b
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(cfg config.Backup, st store.Store, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}

	e.writer = backup.NewWriter(cfg, st, reg, e.now, e.logger)
	e.executor = restore.NewExecutor(st, reg, e.logger)
	e.catalog = catalog.New(cfg.Directory, e.logger)
	return e
}

func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

type CreateOptions struct {
	// Tables to export. Empty means every registered table.
	Tables []string
	// Compress overrides the configured default when set.
	Compress *bool
}

type CreateResult struct {
	Success  bool               `json:"success"`
	Message  string             `json:"message"`
	Path     string             `json:"path,omitempty"`
	Metadata *manifest.Metadata `json:"metadata,omitempty"`
	Duration time.Duration      `json:"duration"`
	Warnings []string           `json:"warnings,omitempty"`
	Rotated  []string           `json:"rotated,omitempty"`
	// RemoteKey is set when the snapshot was copied offsite.
	RemoteKey string `json:"remote_key,omitempty"`
}

// CreateSnapshot writes a new snapshot and reports the outcome. Failures are
// returned in the result, never as an error. The write and its offsite copy
// run to completion even if ctx is cancelled.
func (e *Engine) CreateSnapshot(ctx context.Context, opts CreateOptions) *CreateResult {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	compress := e.cfg.Compress
	if opts.Compress != nil {
		compress = *opts.Compress
	}

	res, err := e.writer.Write(ctx, backup.Options{Tables: opts.Tables, Compress: compress})
	took := time.Since(start)
	if err != nil {
		e.metrics.SnapshotFailed()
		e.logger.Error("Snapshot failed", "error", err)
		return &CreateResult{
			Message:  fmt.Sprintf("Snapshot failed: %v", err),
			Duration: took,
		}
	}

	out := &CreateResult{
		Success:  true,
		Path:     res.Path,
		Metadata: res.Metadata,
		Duration: took,
		Rotated:  res.Rotated,
	}
	for _, msg := range res.TableErrors {
		out.Warnings = append(out.Warnings, "table exported empty: "+msg)
	}

	if e.remote != nil {
		key, err := remote.PushSnapshot(ctx, e.remote, res.Path)
		if err != nil {
			e.logger.Warn("Offsite copy failed", "path", res.Path, "error", err)
			out.Warnings = append(out.Warnings, fmt.Sprintf("offsite copy failed: %v", err))
		} else {
			out.RemoteKey = key
		}
	}

	e.metrics.SnapshotCreated(res.Metadata.RecordCount, res.Metadata.SizeBytes, took, res.Metadata.CreatedAt)
	e.metrics.Rotated(len(res.Rotated))

	out.Message = fmt.Sprintf("Snapshot %s created: %d records across %d tables",
		res.Metadata.ID, res.Metadata.RecordCount, res.Metadata.TableCount)
	if len(res.TableErrors) > 0 {
		out.Message += fmt.Sprintf(" (%d tables exported empty)", len(res.TableErrors))
	}
	return out
}

// RestoreSnapshot applies the snapshot at path.
func (e *Engine) RestoreSnapshot(ctx context.Context, path string, opts restore.Options) *restore.Report {
	report := e.executor.Restore(ctx, path, opts)
	e.metrics.Restored(report.RecordsRestored, report.FailedTables)
	return report
}

// RestoreByID restores a snapshot from the local directory by id.
func (e *Engine) RestoreByID(ctx context.Context, id string, opts restore.Options) *restore.Report {
	path, ok := e.catalog.Find(id)
	if !ok {
		return &restore.Report{
			Message:        fmt.Sprintf("Snapshot %s not found in %s", id, e.cfg.Directory),
			TablesRestored: []string{},
			Errors:         []string{},
		}
	}
	return e.RestoreSnapshot(ctx, path, opts)
}

// RestoreFromRemote downloads snapshot id from offsite storage into a
// temporary directory and restores it.
func (e *Engine) RestoreFromRemote(ctx context.Context, id string, opts restore.Options) *restore.Report {
	fail := func(format string, args ...any) *restore.Report {
		return &restore.Report{
			Message:        fmt.Sprintf(format, args...),
			TablesRestored: []string{},
			Errors:         []string{},
		}
	}
	if e.remote == nil {
		return fail("Remote storage is not configured")
	}

	tmp, err := os.MkdirTemp("", "tabsnap-restore-*")
	if err != nil {
		return fail("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tmp)

	path, err := remote.FetchSnapshot(ctx, e.remote, id, tmp)
	if err != nil {
		e.logger.Error("Failed to fetch snapshot", "id", id, "error", err)
		return fail("Failed to fetch snapshot: %v", err)
	}
	return e.RestoreSnapshot(ctx, path, opts)
}

// ListSnapshots returns the readable snapshots, newest first.
func (e *Engine) ListSnapshots() []manifest.Metadata {
	list, err := e.catalog.List()
	if err != nil {
		e.logger.Warn("Failed to list snapshots", "dir", e.cfg.Directory, "error", err)
		return nil
	}
	return list
}

// GetSnapshotInfo returns the metadata of the snapshot at path, or nil.
func (e *Engine) GetSnapshotInfo(path string) *manifest.Metadata {
	return e.catalog.GetInfo(path)
}

// DeleteSnapshot removes snapshot id and reports whether it existed.
func (e *Engine) DeleteSnapshot(id string) bool {
	return e.catalog.Delete(id)
}

type VerifyResult struct {
	Path     string `json:"path"`
	ID       string `json:"id,omitempty"`
	Valid    bool   `json:"valid"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VerifySnapshot recomputes the checksum of the data section of the snapshot
// at path and compares it with the recorded one.
func (e *Engine) VerifySnapshot(path string) VerifyResult {
	res := VerifyResult{Path: path}

	doc, err := manifest.Load(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.ID = doc.Metadata.ID
	res.Expected = doc.Metadata.Checksum

	payload, err := manifest.DataPayload(doc.Data)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Actual = checksum.Sum(payload)
	res.Valid = checksum.Verify(payload, res.Expected)

	if !res.Valid {
		e.logger.Warn("Snapshot checksum mismatch", "path", path, "expected", res.Expected, "actual", res.Actual)
	}
	return res
}

// ErrVerifyFailed is returned by VerifyResult.Err for a snapshot that does
// not verify.
var ErrVerifyFailed = errors.New("snapshot verification failed")

func (r VerifyResult) Err() error {
	switch {
	case r.Error != "":
		return fmt.Errorf("%w: %s", ErrVerifyFailed, r.Error)
	case !r.Valid:
		return fmt.Errorf("%w: checksum mismatch", ErrVerifyFailed)
	}
	return nil
}
