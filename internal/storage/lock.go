package storage

import "github.com/opencode-teams/core/internal/lockfile"

// WithLockFile exclusively locks path for the duration of fn. Callers that
// need to read-then-write a document under a lock that isn't captured by
// LockedUpdate/LockedUpsert (e.g. reading team config to validate a
// membership check before writing somewhere else entirely) use this
// directly.
func WithLockFile(path string, fn func() error) error {
	return lockfile.WithLock(path, true, fn)
}
