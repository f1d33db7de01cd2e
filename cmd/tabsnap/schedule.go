package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/robfig/cron/v3"

	"tabsnap/internal/config"
	"tabsnap/internal/engine"
)

// scheduleSpec returns the cron spec to run snapshots on. An explicit
// expression wins over backup.auto_interval_hours.
func scheduleSpec(cfg *config.Config, expr string) (string, error) {
	if expr != "" {
		if _, err := cron.ParseStandard(expr); err != nil {
			return "", fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		return expr, nil
	}
	interval := cfg.AutoInterval()
	if interval <= 0 {
		return "", fmt.Errorf("scheduling is disabled: backup.auto_interval_hours is 0")
	}
	return "@every " + interval.String(), nil
}

// cronLogger routes scheduler chatter to slog at debug level. Skipped runs
// are worth a warning.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		l.logger.Warn("Scheduled snapshot skipped, previous run still in progress")
		return
	}
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// jobChain wraps every scheduled snapshot: a run that fires while the
// previous one is still going is skipped, and a panic is logged instead of
// killing the scheduler.
func jobChain(logger *slog.Logger) cron.Chain {
	cl := cronLogger{logger}
	return cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))
}

func runSchedule(ctx context.Context, configPath, expr string, out io.Writer) error {
	return withApp(ctx, configPath, func(a *app) error {
		spec, err := scheduleSpec(a.cfg, expr)
		if err != nil {
			return err
		}

		c := cron.New(
			cron.WithLogger(cronLogger{a.logger}),
			cron.WithChain(jobChain(a.logger).Then),
		)
		if _, err := c.AddFunc(spec, func() { scheduledSnapshot(ctx, a) }); err != nil {
			return fmt.Errorf("failed to schedule snapshots: %w", err)
		}

		a.logger.Info("Scheduler started", "spec", spec, "directory", a.cfg.Backup.Directory)
		fmt.Fprintf(out, "taking snapshots on %q, press Ctrl+C to stop\n", spec)
		c.Start()

		<-ctx.Done()
		// Wait for a snapshot in progress before the store is closed.
		<-c.Stop().Done()
		a.logger.Info("Scheduler stopped")
		return nil
	})
}

func scheduledSnapshot(ctx context.Context, a *app) {
	res := a.engine.CreateSnapshot(ctx, engine.CreateOptions{})
	if !res.Success {
		a.logger.Error("Scheduled snapshot failed", "error", res.Message)
		return
	}
	a.logger.Info("Scheduled snapshot created", "path", res.Path, "duration", res.Duration,
		"warnings", len(res.Warnings))

	if a.cfg.Metrics.Textfile != "" {
		if err := a.engine.Metrics().WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			a.logger.Warn("Failed to write metrics textfile", "error", err)
		}
	}
}
