package rotation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabsnap/internal/manifest"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// makeSnapshots creates n snapshot files, the i-th modified i hours after base.
func makeSnapshots(t *testing.T, dir string, n int) []File {
	t.Helper()
	var files []File
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		path := filepath.Join(dir, manifest.FileName(ts.Format("20060102_150405"), i%2 == 1))
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
		require.NoError(t, os.Chtimes(path, ts, ts))
		files = append(files, File{Path: path, ModTime: ts})
	}
	return files
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()
	files, err := Collect(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
	}
	return names
}

func TestRotateBound(t *testing.T) {
	tests := []struct {
		name  string
		count int
		max   int
	}{
		{name: "under limit", count: 2, max: 5},
		{name: "at limit", count: 5, max: 5},
		{name: "over limit", count: 7, max: 3},
		{name: "keep one", count: 4, max: 1},
		{name: "empty directory", count: 0, max: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			files := makeSnapshots(t, dir, tt.count)

			removed := Rotate(files, tt.max, nil)

			want := tt.count - tt.max
			if want < 0 {
				want = 0
			}
			assert.Len(t, removed, want)

			left := remaining(t, dir)
			assert.Len(t, left, min(tt.count, tt.max))

			// The survivors are exactly the newest files.
			for _, f := range files[tt.count-len(left):] {
				assert.Contains(t, left, filepath.Base(f.Path))
			}
		})
	}
}

func TestRotateZeroKeepsNothing(t *testing.T) {
	tests := []struct {
		name string
		keep int
	}{
		{name: "zero", keep: 0},
		{name: "negative", keep: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			files := makeSnapshots(t, dir, 2)

			assert.Len(t, Rotate(files, tt.keep, nil), 2)
			assert.Empty(t, remaining(t, dir))
		})
	}
}

func TestRotateUsesModTimeNotName(t *testing.T) {
	dir := t.TempDir()
	files := makeSnapshots(t, dir, 3)

	// The file with the oldest name was touched most recently.
	newest := base.Add(24 * time.Hour)
	require.NoError(t, os.Chtimes(files[0].Path, newest, newest))
	files[0].ModTime = newest

	removed := Rotate(files, 1, nil)
	assert.ElementsMatch(t, []string{files[1].Path, files[2].Path}, removed)
	assert.Equal(t, []string{filepath.Base(files[0].Path)}, remaining(t, dir))
}

func TestRotateDeletionFailureIsSkipped(t *testing.T) {
	dir := t.TempDir()
	files := makeSnapshots(t, dir, 3)

	// A non-empty directory cannot be removed with os.Remove.
	stuck := filepath.Join(dir, "stuck")
	require.NoError(t, os.MkdirAll(filepath.Join(stuck, "child"), 0o755))
	files = append([]File{{Path: stuck, ModTime: base.Add(-time.Hour)}}, files...)

	removed := Rotate(files, 1, nil)
	assert.ElementsMatch(t, []string{files[1].Path, files[2].Path}, removed)

	_, err := os.Stat(stuck)
	assert.NoError(t, err)
}

func TestRotateDoesNotReorderInput(t *testing.T) {
	dir := t.TempDir()
	files := makeSnapshots(t, dir, 3)
	before := append([]File(nil), files...)

	Rotate(files, 2, nil)
	assert.Equal(t, before, files)
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	makeSnapshots(t, dir, 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tabsnap.lock"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "backup_20240301_000000.json"), 0o755))

	files, err := Collect(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = Collect(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, files)
}
