// Package runlock serializes laps invocations on one host with an advisory
// file lock.
package runlock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	dserrors "github.com/systmms/laps/internal/errors"
)

// Lock is a held run lock.
type Lock struct {
	flock *flock.Flock
}

// Acquire takes the lock at path without blocking. If another process holds
// it the error is EngineError ConcurrentRunDetected.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path, flock.SetPermissions(0600))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock %s: %w", path, err)
	}
	if !locked {
		return nil, dserrors.New(dserrors.KindConcurrentRun, "lock",
			fmt.Sprintf("another laps run holds %s", path))
	}
	return &Lock{flock: fl}, nil
}

// Release drops the lock. Safe on nil.
func (l *Lock) Release() error {
	if l == nil || l.flock == nil {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
