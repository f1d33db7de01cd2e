// Package lock implements the advisory lock file that keeps two snapshot
// writers out of the same directory.
//
// Exclusion comes from flock(2) on the lock file, so a lock dies with its
// process. The YAML entry inside only tells a blocked writer who holds it.
package lock

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrLocked is returned when another holder has the lock.
var ErrLocked = errors.New("already locked")

// openAttempts bounds retries when the lock file is replaced between open
// and flock.
const openAttempts = 3

// Entry is the content of a lock file. Token tells two holders with the same
// pid apart, e.g. two writers in one process.
type Entry struct {
	Pid       int       `yaml:"pid"`
	Token     string    `yaml:"token"`
	StartedAt time.Time `yaml:"started_at"`
}

func load(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file %s: %w", path, err)
	}

	entry := &Entry{}
	if err := yaml.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("failed to parse lock file %s: %w", path, err)
	}
	return entry, nil
}

func store(f *os.File, entry *Entry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

// sameFile reports whether path still names the file open as f.
func sameFile(f *os.File, path string) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, err
	}
	current, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(held, current), nil
}

func lockedError(path string) error {
	entry, err := load(path)
	if err != nil || entry == nil || entry.Pid <= 0 {
		return fmt.Errorf("%w by another process", ErrLocked)
	}
	return fmt.Errorf("%w by pid %d (started %s)", ErrLocked, entry.Pid, entry.StartedAt.Format(time.RFC3339))
}

// Acquire takes the lock at lockPath without blocking. A lock file left by a
// dead process carries no flock and is simply taken over. The returned
// release function removes the lock file only while it still carries this
// holder's token and may be called more than once.
func Acquire(lockPath string) (func() error, error) {
	for attempt := 0; attempt < openAttempts; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open lock file: %w", err)
		}

		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			_ = f.Close()
			if errors.Is(err, syscall.EWOULDBLOCK) {
				return nil, lockedError(lockPath)
			}
			return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
		}

		// A releasing holder may have removed the file after we opened it.
		same, err := sameFile(f, lockPath)
		if err != nil || !same {
			_ = f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to check lock file: %w", err)
			}
			continue
		}

		mine := &Entry{
			Pid:       os.Getpid(),
			Token:     uuid.NewString(),
			StartedAt: time.Now().UTC().Truncate(time.Second),
		}
		if err := store(f, mine); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to write lock file: %w", err)
		}
		return releaser(f, lockPath, mine.Token), nil
	}
	return nil, fmt.Errorf("%w: lock file %s keeps being replaced", ErrLocked, lockPath)
}

func releaser(f *os.File, lockPath, token string) func() error {
	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		// Closing drops the flock; the file is removed while still held.
		defer f.Close()

		current, err := load(lockPath)
		if err != nil || current == nil || current.Token != token {
			return err
		}
		if same, err := sameFile(f, lockPath); err != nil || !same {
			return err
		}
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove lock file: %w", err)
		}
		return nil
	}
}
