// Package restore applies a snapshot back to the data store, one table per
// transaction, parents before children.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"tabsnap/internal/codec"
	"tabsnap/internal/manifest"
	"tabsnap/internal/registry"
	"tabsnap/internal/store"
)

type Options struct {
	// Tables to restore. Empty means every table in the snapshot.
	Tables []string
	// ClearExisting deletes the current rows of each table before its
	// records are upserted.
	ClearExisting bool
}

// Report is the outcome of a restore. It is built fresh for every call.
type Report struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	TablesRestored  []string `json:"tables_restored"`
	RecordsRestored int      `json:"records_restored"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings,omitempty"`
	// FailedTables names the tables behind Errors, in restore order.
	FailedTables []string `json:"-"`
}

func failed(format string, args ...any) *Report {
	return &Report{
		Message:        fmt.Sprintf(format, args...),
		TablesRestored: []string{},
		Errors:         []string{},
	}
}

type Executor struct {
	store  store.Store
	reg    *registry.Registry
	logger *slog.Logger
}

func NewExecutor(st store.Store, reg *registry.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: st, reg: reg, logger: logger}
}

// Restore loads the snapshot at path and applies it. Nothing is written when
// the file cannot be read or lacks a section. A checksum mismatch is reported
// as a warning and does not stop the restore. Cancelling ctx does not abort
// a restore that has started.
func (e *Executor) Restore(ctx context.Context, path string, opts Options) *Report {
	ctx = context.WithoutCancel(ctx)
	e.logger.Info("Restore started", "path", path, "tables", opts.Tables, "clear", opts.ClearExisting)

	doc, err := manifest.Load(path)
	if err != nil {
		e.logger.Error("Failed to load snapshot", "path", path, "error", err)
		if errors.Is(err, manifest.ErrMissingSection) {
			return failed("Invalid snapshot: %v", err)
		}
		return failed("Failed to read snapshot: %v", err)
	}

	var warnings []string
	switch ok, err := doc.Verify(); {
	case err != nil:
		warnings = append(warnings, fmt.Sprintf("checksum not verified: %v", err))
	case doc.Metadata.Checksum == "":
		warnings = append(warnings, "snapshot carries no checksum")
	case !ok:
		warnings = append(warnings, "checksum mismatch: snapshot data may be corrupted")
	}
	for _, w := range warnings {
		e.logger.Warn("Snapshot integrity", "path", path, "warning", w)
	}

	report := e.Apply(ctx, doc, opts)
	report.Warnings = append(warnings, report.Warnings...)
	return report
}

// Apply restores the tables of an already decoded snapshot. Like Restore it
// runs to completion regardless of ctx cancellation.
func (e *Executor) Apply(ctx context.Context, doc *manifest.Document, opts Options) *Report {
	ctx = context.WithoutCancel(ctx)
	if doc == nil || doc.Metadata == nil {
		return failed("Invalid snapshot: %v", fmt.Errorf("%w: metadata", manifest.ErrMissingSection))
	}
	if doc.Data == nil {
		return failed("Invalid snapshot: %v", fmt.Errorf("%w: data", manifest.ErrMissingSection))
	}

	present := make([]string, 0, len(doc.Data))
	for name := range doc.Data {
		if !e.reg.Has(name) {
			e.logger.Warn("Skipping unknown table in snapshot", "table", name)
			continue
		}
		present = append(present, name)
	}
	sort.Strings(present)

	order := Plan(opts.Tables, present, e.reg)
	report := &Report{TablesRestored: []string{}, Errors: []string{}}

	for _, name := range order {
		n, err := e.restoreTable(ctx, name, doc.Data[name], opts.ClearExisting)
		if err != nil {
			e.logger.Error("Table restore failed", "table", name, "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", name, err))
			report.FailedTables = append(report.FailedTables, name)
			continue
		}
		e.logger.Info("Table restored", "table", name, "records", n)
		report.TablesRestored = append(report.TablesRestored, name)
		report.RecordsRestored += n
	}

	report.Success = len(report.Errors) == 0
	switch {
	case len(order) == 0:
		report.Message = "Restore complete: no matching tables in snapshot"
	case report.Success:
		report.Message = fmt.Sprintf("Restore complete: %d records across %d tables",
			report.RecordsRestored, len(report.TablesRestored))
	default:
		report.Message = fmt.Sprintf("Restore partial: %d of %d tables restored, %d failed",
			len(report.TablesRestored), len(order), len(report.Errors))
	}

	e.logger.Info("Restore finished", "success", report.Success,
		"tables", len(report.TablesRestored), "records", report.RecordsRestored, "errors", len(report.Errors))
	return report
}

// restoreTable applies one table in its own transaction. Any failure rolls
// back the whole table.
func (e *Executor) restoreTable(ctx context.Context, name string, docs []codec.Document, clearExisting bool) (int, error) {
	tbl, _ := e.reg.Lookup(name)

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		if clearExisting {
			if err := tx.DeleteAll(ctx, name); err != nil {
				return fmt.Errorf("failed to clear table: %w", err)
			}
		}
		for i, doc := range docs {
			rec, err := codec.FromDocument(tbl, doc)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			if err := tx.Upsert(ctx, name, rec); err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
