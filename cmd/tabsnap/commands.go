package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tabsnap/internal/check"
	"tabsnap/internal/engine"
	"tabsnap/internal/list"
	"tabsnap/internal/registry"
	"tabsnap/internal/restore"
	"tabsnap/internal/store"
)

var errRestoreTarget = errors.New("exactly one of --path or --id is required")

func withApp(ctx context.Context, configPath string, fn func(a *app) error) (err error) {
	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

// backupOutput is the printed result of a backup. Metadata is rendered like
// a listing entry, so it carries the path and size the file itself omits.
type backupOutput struct {
	*engine.CreateResult
	Metadata *list.Info `json:"metadata,omitempty"`
}

func newBackupOutput(res *engine.CreateResult) backupOutput {
	out := backupOutput{CreateResult: res}
	if res.Metadata != nil {
		info := list.NewInfo(*res.Metadata)
		out.Metadata = &info
	}
	return out
}

func runBackup(ctx context.Context, configPath string, tables []string, compress *bool, out io.Writer) error {
	return withApp(ctx, configPath, func(a *app) error {
		res := a.engine.CreateSnapshot(ctx, engine.CreateOptions{Tables: tables, Compress: compress})
		if err := list.WriteJSON(out, newBackupOutput(res)); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("backup failed: %s", res.Message)
		}
		return nil
	})
}

type restoreArgs struct {
	path   string
	id     string
	source string
	tables []string
	clear  bool
}

func (r restoreArgs) validate() error {
	if (r.path == "") == (r.id == "") {
		return errRestoreTarget
	}
	switch r.source {
	case "local", "s3":
	default:
		return fmt.Errorf("invalid source %q: must be local or s3", r.source)
	}
	if r.source == "s3" && r.id == "" {
		return fmt.Errorf("--source s3 requires --id")
	}
	return nil
}

func runRestore(ctx context.Context, configPath string, args restoreArgs, out io.Writer) error {
	if err := args.validate(); err != nil {
		return err
	}

	return withApp(ctx, configPath, func(a *app) error {
		if args.source == "s3" && !a.cfg.S3.Enabled {
			return fmt.Errorf("S3 is not enabled in config")
		}

		opts := restore.Options{Tables: args.tables, ClearExisting: args.clear}
		var report *restore.Report
		switch {
		case args.path != "":
			report = a.engine.RestoreSnapshot(ctx, args.path, opts)
		case args.source == "s3":
			report = a.engine.RestoreFromRemote(ctx, args.id, opts)
		default:
			report = a.engine.RestoreByID(ctx, args.id, opts)
		}

		if err := list.WriteJSON(out, report); err != nil {
			return err
		}
		if !report.Success {
			return fmt.Errorf("restore failed: %s", report.Message)
		}
		return nil
	})
}

func runList(ctx context.Context, configPath string, out io.Writer) error {
	return withApp(ctx, configPath, func(a *app) error {
		return list.WriteJSON(out, list.Build(a.cfg.Backup.Directory, a.engine.ListSnapshots()))
	})
}

func runInfo(ctx context.Context, configPath, path string, out io.Writer) error {
	return withApp(ctx, configPath, func(a *app) error {
		info := a.engine.GetSnapshotInfo(path)
		if info == nil {
			return fmt.Errorf("not a readable snapshot: %s", path)
		}
		return list.WriteJSON(out, list.NewInfo(*info))
	})
}

func runDelete(ctx context.Context, configPath, id string, out io.Writer) error {
	return withApp(ctx, configPath, func(a *app) error {
		if !a.engine.DeleteSnapshot(id) {
			return fmt.Errorf("snapshot %s not found", id)
		}
		fmt.Fprintf(out, "deleted snapshot %s\n", id)
		return nil
	})
}

func runVerify(ctx context.Context, configPath, path string, out io.Writer) error {
	return withApp(ctx, configPath, func(a *app) error {
		res := a.engine.VerifySnapshot(path)
		if err := list.WriteJSON(out, res); err != nil {
			return err
		}
		return res.Err()
	})
}

// runCheck does not go through openApp: a missing database is reported, not
// created.
func runCheck(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	_, logFile, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	reg := registry.Household()
	open := func(path string) (store.Store, func() error, error) {
		return openStore(path, reg)
	}
	if err := check.Run(ctx, cfg, reg, open, newRemote, out); err != nil {
		return fmt.Errorf("check failed: %w", err)
	}
	return nil
}
