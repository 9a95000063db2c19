// Package lockfile enforces a single browser instance per data directory
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the data directory.
var ErrLocked = errors.New("another instance is using this data directory")

// Lockfile is an advisory lock on a file. The kernel drops the lock when the
// holding process exits, so a stale file never blocks a new instance.
type Lockfile struct {
	path   string
	flock  *flock.Flock
	pid    int
	locked bool
}

// New returns an unlocked handle for path.
func New(path string) *Lockfile {
	return &Lockfile{
		path:  path,
		flock: flock.New(path),
	}
}

// TryAcquire takes the lock without blocking, creating the directory if needed.
func (l *Lockfile) TryAcquire() error {
	if l.locked {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}
	if !ok {
		if holder, ok := l.holder(); ok {
			return fmt.Errorf("%w (pid %d)", ErrLocked, holder)
		}
		return ErrLocked
	}

	l.pid = os.Getpid()
	l.locked = true

	// PID and timestamp are informational only.
	content := fmt.Sprintf("%d\n%s\n", l.pid, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(l.path, []byte(content), 0o600); err != nil {
		_ = l.Release()
		return fmt.Errorf("failed to write to lockfile: %w", err)
	}
	return nil
}

func (l *Lockfile) holder() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	first, _, _ := strings.Cut(string(data), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// Release releases the lock
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return nil
}

// PID returns the PID that acquired the lock
func (l *Lockfile) PID() int {
	return l.pid
}

// Locked returns true if the lock is held
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path
func (l *Lockfile) Path() string {
	return l.path
}
