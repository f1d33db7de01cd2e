package check

import (
	"context"
	"fmt"
	"io"
	"os"

	"tabsnap/internal/config"
	"tabsnap/internal/registry"
	"tabsnap/internal/remote"
	"tabsnap/internal/store"
	"tabsnap/internal/util"
)

// Opener opens the configured data store.
type Opener func(path string) (store.Store, func() error, error)

// RemoteFactory builds the offsite backend. It is only called when S3 is
// enabled.
type RemoteFactory func(ctx context.Context, cfg *config.Config) (remote.Backend, error)

// Run checks that the configuration is usable: the database opens and every
// registered table can be read, the snapshot directory is writable and, when
// enabled, the S3 bucket is reachable. Progress is written to out.
func Run(ctx context.Context, cfg *config.Config, reg *registry.Registry, open Opener, newRemote RemoteFactory, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintln(out, "config: OK")

	if _, err := os.Stat(cfg.Database.Path); err != nil {
		return fmt.Errorf("database %s: %w", cfg.Database.Path, err)
	}
	st, closeStore, err := open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("database %s: %w", cfg.Database.Path, err)
	}
	defer closeStore()

	for _, name := range reg.AllTableNames() {
		recs, err := st.Scan(ctx, name)
		if err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
		fmt.Fprintf(out, "table %s: OK (%d records)\n", name, len(recs))
	}

	if err := checkWritable(cfg.Backup.Directory); err != nil {
		return fmt.Errorf("directory %s: %w", cfg.Backup.Directory, err)
	}
	fmt.Fprintf(out, "directory %s: OK\n", cfg.Backup.Directory)

	if cfg.S3.Enabled {
		backend, err := newRemote(ctx, cfg)
		if err != nil {
			return fmt.Errorf("S3 init: %w", err)
		}
		if err := backend.VerifyCredentials(ctx); err != nil {
			return fmt.Errorf("S3 credentials: %w", err)
		}
		fmt.Fprintf(out, "S3 bucket %s: OK\n", cfg.S3.Bucket)
	}

	fmt.Fprintln(out, "all checks passed")
	return nil
}

func checkWritable(dir string) error {
	if err := util.SetupDirectories(dir); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tabsnap-check-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
