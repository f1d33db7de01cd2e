package lock

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func readEntry(t *testing.T, path string) Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry Entry
	require.NoError(t, yaml.Unmarshal(data, &entry))
	return entry
}

func writeEntry(t *testing.T, path string, entry *Entry) {
	t.Helper()
	data, err := yaml.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestAcquireAndRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".tabsnap.lock")

	release, err := Acquire(lockPath)
	require.NoError(t, err)

	entry := readEntry(t, lockPath)
	assert.Equal(t, os.Getpid(), entry.Pid)
	assert.NotEmpty(t, entry.StartedAt)
	_, err = uuid.Parse(entry.Token)
	assert.NoError(t, err)

	require.NoError(t, release())
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireBlockedByLivePid(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".tabsnap.lock")

	release, err := Acquire(lockPath)
	require.NoError(t, err)
	defer release()

	_, err = Acquire(lockPath)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "by pid")
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".tabsnap.lock")

	stale := &Entry{Pid: 999999999, Token: "stale", StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	writeEntry(t, lockPath, stale)

	release, err := Acquire(lockPath)
	require.NoError(t, err)

	entry := readEntry(t, lockPath)
	assert.Equal(t, os.Getpid(), entry.Pid)
	assert.NotEqual(t, "stale", entry.Token)

	require.NoError(t, release())
}

func TestReleaseIdempotent(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".tabsnap.lock")

	release, err := Acquire(lockPath)
	require.NoError(t, err)

	require.NoError(t, release())
	require.NoError(t, release())
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".tabsnap.lock")

	release, err := Acquire(lockPath)
	require.NoError(t, err)

	other := &Entry{Pid: os.Getpid(), Token: "someone-else", StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	writeEntry(t, lockPath, other)

	require.NoError(t, release())
	assert.Equal(t, "someone-else", readEntry(t, lockPath).Token)
}

func TestAcquireTakesOverUnheldLockFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "corrupt", content: "pid: [unterminated"},
		{name: "empty", content: ""},
		{name: "live pid without flock", content: "pid: 1\ntoken: leftover\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lockPath := filepath.Join(t.TempDir(), ".tabsnap.lock")
			require.NoError(t, os.WriteFile(lockPath, []byte(tt.content), 0o644))

			release, err := Acquire(lockPath)
			require.NoError(t, err)
			assert.Equal(t, os.Getpid(), readEntry(t, lockPath).Pid)
			require.NoError(t, release())
		})
	}
}

func TestAcquireExcludesConcurrentWriters(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".tabsnap.lock")
	const writers = 8

	for round := 0; round < 100; round++ {
		var (
			start    sync.WaitGroup
			done     sync.WaitGroup
			acquired atomic.Int32
			mu       sync.Mutex
			releases []func() error
		)
		start.Add(1)
		for i := 0; i < writers; i++ {
			done.Add(1)
			go func() {
				defer done.Done()
				start.Wait()
				release, err := Acquire(lockPath)
				if err != nil {
					assert.ErrorIs(t, err, ErrLocked)
					return
				}
				acquired.Add(1)
				mu.Lock()
				releases = append(releases, release)
				mu.Unlock()
			}()
		}
		start.Done()
		done.Wait()

		require.Equal(t, int32(1), acquired.Load(), "round %d", round)
		for _, release := range releases {
			require.NoError(t, release())
		}
	}
}

func TestAcquireConcurrentTakeoverOfStaleLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".tabsnap.lock")
	const writers = 8

	for round := 0; round < 50; round++ {
		writeEntry(t, lockPath, &Entry{Pid: 999999999, Token: "stale", StartedAt: time.Now().UTC()})

		var (
			start    sync.WaitGroup
			done     sync.WaitGroup
			acquired atomic.Int32
			mu       sync.Mutex
			releases []func() error
		)
		start.Add(1)
		for i := 0; i < writers; i++ {
			done.Add(1)
			go func() {
				defer done.Done()
				start.Wait()
				release, err := Acquire(lockPath)
				if err != nil {
					return
				}
				acquired.Add(1)
				mu.Lock()
				releases = append(releases, release)
				mu.Unlock()
			}()
		}
		start.Done()
		done.Wait()

		require.Equal(t, int32(1), acquired.Load(), "round %d", round)
		for _, release := range releases {
			require.NoError(t, release())
		}
	}
}

func TestAcquireLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, ".tabsnap.lock")

	release, err := Acquire(lockPath)
	require.NoError(t, err)
	_, err = Acquire(lockPath)
	require.ErrorIs(t, err, ErrLocked)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".tabsnap.lock", entries[0].Name())

	require.NoError(t, release())
}
