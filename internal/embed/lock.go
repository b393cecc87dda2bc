package embed

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock is the cross-process exclusion around model downloads. Two
// daemons pointed at the same models directory must not both stream
// the same 146 MiB file; whoever wins the flock downloads, the loser
// finds the finished file on its re-check. Portable across Unix and
// Windows via gofrs/flock.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock locks <dir>/.download.lock.
func NewFileLock(dir string) *FileLock {
	lockPath := filepath.Join(dir, ".download.lock")
	return &FileLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock blocks until the exclusive lock is held, creating the lock file
// (and its directory) as needed.
func (l *FileLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("embed: create lock dir: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("embed: acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock attempts the lock without blocking; false means another
// process holds it.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("embed: create lock dir: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("embed: acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock; calling it while unlocked is a no-op.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("embed: release lock: %w", err)
	}
	return nil
}

// Path is the lock file location.
func (l *FileLock) Path() string { return l.path }

// IsLocked reports whether this process holds the lock.
func (l *FileLock) IsLocked() bool { return l.locked }
