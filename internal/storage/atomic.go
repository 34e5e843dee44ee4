package storage

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/lockfile"
)

// Validatable is any persisted document whose schema is its own Validate
// method.
type Validatable interface {
	Validate() error
}

// ReadValidated reads and JSON-decodes path into dst, then validates it.
// A missing file, a malformed document, or a schema violation all surface
// as coreerr.NotFound / coreerr.Corrupted respectively.
func ReadValidated(path string, dst Validatable) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return coreerr.NotFoundf("no such file %s", path)
		}
		return coreerr.WrapCorrupted(err, "reading %s", path)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return coreerr.WrapCorrupted(err, "decoding %s", path)
	}
	if err := dst.Validate(); err != nil {
		return coreerr.WrapCorrupted(err, "schema violation in %s", path)
	}
	return nil
}

// WriteAtomic validates v, serializes it, and writes it to path using the
// write-temp-then-rename pattern: a crash between serialize and
// rename leaves the previous file intact because rename(2) is atomic on
// POSIX filesystems.
func WriteAtomic(path string, v Validatable) error {
	if err := v.Validate(); err != nil {
		return coreerr.WrapCorrupted(err, "refusing to write invalid value to %s", path)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%d", filepath.Base(path), rand.Int63()))
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("storage: write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// LockedUpdate exclusively locks lockPath, reads filePath into a fresh
// value via newValue, applies mutator, and writes the result back
// atomically.
func LockedUpdate[T Validatable](lockPath, filePath string, newValue func() T, mutator func(T) error) (T, error) {
	var zero T
	var result T
	err := lockfile.WithLock(lockPath, true, func() error {
		v := newValue()
		if err := ReadValidated(filePath, v); err != nil {
			return err
		}
		if err := mutator(v); err != nil {
			return err
		}
		if err := WriteAtomic(filePath, v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}

// LockedUpsert is LockedUpdate but inserts def when filePath does not yet
// exist.
func LockedUpsert[T Validatable](lockPath, filePath string, def func() T, mutator func(T) error) (T, error) {
	var zero T
	var result T
	err := lockfile.WithLock(lockPath, true, func() error {
		v := def()
		err := ReadValidated(filePath, v)
		if err != nil {
			if !coreerr.Is(err, coreerr.NotFound) {
				return err
			}
			v = def()
		}
		if err := mutator(v); err != nil {
			return err
		}
		if err := WriteAtomic(filePath, v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}
