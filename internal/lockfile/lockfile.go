// Package lockfile enforces the single-instance guarantee: only one
// shuttle run may own a given quarantine directory at a time.
package lockfile

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = fmt.Errorf("lock file is held by another process")

// Lock wraps an advisory file lock acquired for the duration of a run.
type Lock struct {
	flock *flock.Flock
	path  string
}

// Acquire attempts to take the lock at path without blocking. It fails
// fast (ErrLocked) rather than waiting, matching the spec's preflight
// contract.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrLocked
	}

	return &Lock{flock: fl, path: path}, nil
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file %s: %w", l.path, err)
	}
	return nil
}
