// Package lockfile implements the concurrency substrate's advisory-locking
// primitive: whole-file POSIX flock(2) locks, shared for reads
// and exclusive for writes, with a WithLock helper that guarantees release
// on every exit path.
//
// golang.org/x/sys/unix provides the flock(2) binding; its Windows sibling
// golang.org/x/sys/windows is used elsewhere in this dependency family for
// single-instance locks, but this package targets POSIX only.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is a held advisory lock on one file. Release is idempotent.
type Lock struct {
	file *os.File
	path string
}

// Acquire opens (creating as needed) the lock file at path and blocks until
// the requested lock mode is granted. exclusive=true requests LOCK_EX,
// otherwise LOCK_SH.
func Acquire(path string, exclusive bool) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("lockfile: mkdir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
	}

	return &Lock{file: f, path: path}, nil
}

// TryAcquire is the non-blocking form; it returns (nil, nil) if the lock is
// currently held elsewhere rather than blocking.
func TryAcquire(path string, exclusive bool) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("lockfile: mkdir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	how := unix.LOCK_SH | unix.LOCK_NB
	if exclusive {
		how = unix.LOCK_EX | unix.LOCK_NB
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
	}

	return &Lock{file: f, path: path}, nil
}

// Release unlocks and closes the underlying file descriptor. Safe to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("lockfile: unlock %s: %w", l.path, err)
	}
	return closeErr
}

// WithLock acquires path in the requested mode, runs fn, and releases the
// lock on every exit path including a panic unwinding through fn.
func WithLock(path string, exclusive bool, fn func() error) error {
	lk, err := Acquire(path, exclusive)
	if err != nil {
		return err
	}
	defer lk.Release()
	return fn()
}
