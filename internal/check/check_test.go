package check

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabsnap/internal/config"
	"tabsnap/internal/registry"
	"tabsnap/internal/remote"
	"tabsnap/internal/store"
	"tabsnap/internal/store/sqlite"
	"tabsnap/internal/store/storetest"
)

type stubRemote struct {
	remote.Backend
	err error
}

func (s stubRemote) VerifyCredentials(context.Context) error { return s.err }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "household.db")},
		Backup:   config.Backup{Directory: filepath.Join(dir, "backups"), MaxSnapshots: 3},
		Logging:  config.LoggingConfig{Level: "info"},
	}
}

func sqliteOpener(reg *registry.Registry) Opener {
	return func(path string) (store.Store, func() error, error) {
		s, err := sqlite.Open(path, reg, nil)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func noRemote(context.Context, *config.Config) (remote.Backend, error) {
	return nil, errors.New("unexpected remote")
}

func TestRunAllChecksPass(t *testing.T) {
	reg := registry.Household()
	cfg := testConfig(t)

	// Create the database first; check never creates one.
	s, err := sqlite.Open(cfg.Database.Path, reg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), cfg, reg, sqliteOpener(reg), noRemote, &out))

	assert.Contains(t, out.String(), "config: OK")
	assert.Contains(t, out.String(), "table meals: OK (0 records)")
	assert.Contains(t, out.String(), "all checks passed")

	entries, err := os.ReadDir(cfg.Backup.Directory)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunMissingDatabase(t *testing.T) {
	reg := registry.Household()
	cfg := testConfig(t)

	err := Run(context.Background(), cfg, reg, sqliteOpener(reg), noRemote, &bytes.Buffer{})
	assert.ErrorContains(t, err, "database")

	_, statErr := os.Stat(cfg.Database.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunTableScanFails(t *testing.T) {
	reg := registry.Household()
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Database.Path, nil, 0o644))

	mem := storetest.NewMemory(reg)
	mem.ScanErr["recipes"] = errors.New("no such table")
	open := func(string) (store.Store, func() error, error) {
		return mem, func() error { return nil }, nil
	}

	err := Run(context.Background(), cfg, reg, open, noRemote, &bytes.Buffer{})
	assert.ErrorContains(t, err, "table recipes: no such table")
}

func TestRunInvalidConfig(t *testing.T) {
	reg := registry.Household()
	cfg := testConfig(t)
	cfg.Backup.Directory = ""

	err := Run(context.Background(), cfg, reg, sqliteOpener(reg), noRemote, &bytes.Buffer{})
	assert.ErrorContains(t, err, "config: backup.directory is required")
}

func TestRunRemote(t *testing.T) {
	reg := registry.Household()
	cfg := testConfig(t)
	cfg.S3.Enabled = true
	cfg.S3.Bucket = "snapshots"
	cfg.S3.Region = "eu-west-1"
	cfg.S3.StorageClass = "STANDARD"
	require.NoError(t, os.WriteFile(cfg.Database.Path, nil, 0o644))

	mem := storetest.NewMemory(reg)
	open := func(string) (store.Store, func() error, error) {
		return mem, func() error { return nil }, nil
	}

	var out bytes.Buffer
	ok := func(context.Context, *config.Config) (remote.Backend, error) { return stubRemote{}, nil }
	require.NoError(t, Run(context.Background(), cfg, reg, open, ok, &out))
	assert.Contains(t, out.String(), "S3 bucket snapshots: OK")

	denied := func(context.Context, *config.Config) (remote.Backend, error) {
		return stubRemote{err: errors.New("403 Forbidden")}, nil
	}
	err := Run(context.Background(), cfg, reg, open, denied, &bytes.Buffer{})
	assert.ErrorContains(t, err, "S3 credentials: 403 Forbidden")
}
