//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// The suite drives a built tabsnap binary, against MinIO for the S3 cases:
//
//	go build -o /tmp/tabsnap ./cmd/tabsnap
//	TABSNAP_BIN=/tmp/tabsnap go test -tags e2e ./test/e2e/
const (
	defaultBin = "/tmp/tabsnap"

	minioEndpoint  = "http://127.0.0.1:9000"
	minioAccessKey = "admin"
	minioSecretKey = "password"
	minioBucket    = "tabsnap-test"
)

type harness struct {
	bin        string
	configPath string
	backupDir  string
}

func newHarness(t *testing.T, withS3 bool) *harness {
	t.Helper()

	bin := os.Getenv("TABSNAP_BIN")
	if bin == "" {
		bin = defaultBin
	}
	if _, err := os.Stat(bin); err != nil {
		t.Skipf("tabsnap binary not found at %s", bin)
	}

	dir := t.TempDir()
	h := &harness{
		bin:        bin,
		configPath: filepath.Join(dir, "tabsnap.yaml"),
		backupDir:  filepath.Join(dir, "backups"),
	}

	config := fmt.Sprintf(`database:
  path: %s
backup:
  directory: %s
  max_snapshots: 3
logging:
  dir: %s
  level: warn
`, filepath.Join(dir, "household.db"), h.backupDir, filepath.Join(dir, "logs"))

	if withS3 {
		config += fmt.Sprintf(`s3:
  enabled: true
  bucket: %s
  prefix: %s
  region: us-east-1
  endpoint: %s
  storage_class: STANDARD
`, minioBucket, filepath.Base(dir), minioEndpoint)
	}

	require.NoError(t, os.WriteFile(h.configPath, []byte(config), 0o644))
	return h
}

// run returns stdout; stderr carries the console log.
func (h *harness) run(args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.bin, append(args, "--config", h.configPath)...)
	cmd.Env = append(os.Environ(),
		"AWS_ACCESS_KEY_ID="+minioAccessKey,
		"AWS_SECRET_ACCESS_KEY="+minioSecretKey,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), stderr.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := h.run(args...)
	require.NoError(t, err, "tabsnap %s failed\nstdout: %s\nstderr: %s", strings.Join(args, " "), out, stderr)
	return out
}
