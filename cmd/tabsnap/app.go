package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tabsnap/internal/config"
	"tabsnap/internal/engine"
	"tabsnap/internal/logging"
	"tabsnap/internal/registry"
	"tabsnap/internal/remote"
	"tabsnap/internal/store"
	"tabsnap/internal/store/sqlite"
	"tabsnap/internal/util"
)

// app holds what one command invocation needs. close releases the store and
// flushes metrics.
type app struct {
	cfg    *config.Config
	reg    *registry.Registry
	engine *engine.Engine
	logger *slog.Logger

	closers []func() error
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) (*slog.Logger, *os.File, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	logger, logFile, err := util.SetupLogging(util.LogPath(cfg.Logging.Dir, time.Now()), level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, logFile, nil
}

func openStore(path string, reg *registry.Registry) (store.Store, func() error, error) {
	s, err := sqlite.Open(path, reg, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return s, s.Close, nil
}

func newRemote(ctx context.Context, cfg *config.Config) (remote.Backend, error) {
	backend, err := remote.NewS3(ctx, remote.Options{
		Bucket:       cfg.S3.Bucket,
		Region:       cfg.S3.Region,
		Prefix:       cfg.S3.Prefix,
		Endpoint:     cfg.S3.Endpoint,
		StorageClass: cfg.S3.StorageClass,
		MaxAttempts:  cfg.S3RetryAttempts(),
		Logger:       slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	return backend, nil
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, logFile, err := setupLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		reg:     registry.Household(),
		logger:  logger,
		closers: []func() error{logFile.Close},
	}

	st, closeStore, err := openStore(cfg.Database.Path, a.reg)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.S3.Enabled {
		backend, err := newRemote(ctx, cfg)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		opts = append(opts, engine.WithRemote(backend))
	}

	a.engine = engine.New(cfg.Backup, st, a.reg, opts...)
	logger.Debug("Application initialized", "config", configPath, "database", cfg.Database.Path,
		"directory", cfg.Backup.Directory, "s3", cfg.S3.Enabled)
	return a, nil
}

// close runs closers in reverse order and writes the metrics textfile when
// one is configured.
func (a *app) close() error {
	var errs []error
	if a.engine != nil && a.cfg.Metrics.Textfile != "" {
		if err := a.engine.Metrics().WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
