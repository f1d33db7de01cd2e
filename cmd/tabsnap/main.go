package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "path to configuration yaml file",
		Value: "tabsnap.yaml",
	}
}

func tablesFlag(usage string) cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "table",
		Usage: usage,
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "tabsnap",
		Usage:   "Snapshot backup and restore for household tables",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:  "backup",
				Usage: "Create a snapshot of the configured database",
				Flags: []cli.Flag{
					configFlag(),
					tablesFlag("Table to export (repeatable, default all)"),
					&cli.BoolFlag{
						Name:  "compress",
						Usage: "gzip the snapshot file (overrides backup.compress)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					var compress *bool
					if cmd.IsSet("compress") {
						v := cmd.Bool("compress")
						compress = &v
					}
					return runBackup(ctx, cmd.String("config"), cmd.StringSlice("table"), compress, cmd.Root().Writer)
				},
			},
			{
				Name:  "restore",
				Usage: "Restore tables from a snapshot",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "path",
						Usage: "Snapshot file to restore",
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "Snapshot id to restore (YYYYMMDD_HHMMSS)",
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "Where to look up --id: local or s3",
						Value: "local",
					},
					tablesFlag("Table to restore (repeatable, default all in snapshot)"),
					&cli.BoolFlag{
						Name:  "clear",
						Usage: "Delete existing rows of each restored table first",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRestore(ctx, cmd.String("config"), restoreArgs{
						path:   cmd.String("path"),
						id:     cmd.String("id"),
						source: cmd.String("source"),
						tables: cmd.StringSlice("table"),
						clear:  cmd.Bool("clear"),
					}, cmd.Root().Writer)
				},
			},
			{
				Name:  "list",
				Usage: "List local snapshots, newest first",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runList(ctx, cmd.String("config"), cmd.Root().Writer)
				},
			},
			{
				Name:  "info",
				Usage: "Show the metadata of a snapshot file",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "path",
						Usage:    "Snapshot file",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runInfo(ctx, cmd.String("config"), cmd.String("path"), cmd.Root().Writer)
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a local snapshot",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Snapshot id (YYYYMMDD_HHMMSS)",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runDelete(ctx, cmd.String("config"), cmd.String("id"), cmd.Root().Writer)
				},
			},
			{
				Name:  "verify",
				Usage: "Verify the checksum of a snapshot file",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "path",
						Usage:    "Snapshot file",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runVerify(ctx, cmd.String("config"), cmd.String("path"), cmd.Root().Writer)
				},
			},
			{
				Name:  "check",
				Usage: "Check configuration, database, snapshot directory and S3 access",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runCheck(ctx, cmd.String("config"), cmd.Root().Writer)
				},
			},
			{
				Name:  "schedule",
				Usage: "Take snapshots periodically until interrupted",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "cron",
						Usage: "Cron expression (default every backup.auto_interval_hours)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runSchedule(ctx, cmd.String("config"), cmd.String("cron"), cmd.Root().Writer)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			fmt.Fprintln(os.Stderr, "\ninterrupted")
			os.Exit(130)
		}
		slog.Error("CLI error", "error", err)
		os.Exit(1)
	}
}
