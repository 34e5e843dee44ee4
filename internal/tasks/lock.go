package tasks

import "github.com/opencode-teams/core/internal/lockfile"

// lockExclusive and lockShared wrap internal/lockfile.WithLock so the rest
// of the engine reads like the locked sections they guard, without
// repeating the exclusive/shared bool at every call site.
func lockExclusive(path string, fn func() error) error {
	return lockfile.WithLock(path, true, fn)
}

func lockShared(path string, fn func() error) error {
	return lockfile.WithLock(path, false, fn)
}
