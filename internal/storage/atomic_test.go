package storage

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/opencode-teams/core/internal/coreerr"
)

type fakeDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (f *fakeDoc) Validate() error {
	if f.Name == "" {
		return errEmptyName
	}
	return nil
}

type emptyNameErr struct{}

func (emptyNameErr) Error() string { return "name required" }

var errEmptyName = emptyNameErr{}

func TestWriteAtomicThenReadValidatedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	v := &fakeDoc{Name: "alpha", Count: 3}
	if err := WriteAtomic(path, v); err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}

	got := &fakeDoc{}
	if err := ReadValidated(path, got); err != nil {
		t.Fatalf("ReadValidated failed: %v", err)
	}
	if got.Name != "alpha" || got.Count != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestReadValidatedMissingFileIsNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")

	err := ReadValidated(path, &fakeDoc{})
	if !coreerr.Is(err, coreerr.NotFound) {
		t.Fatalf("expected NotFound error, got %v", err)
	}
}

func TestWriteAtomicRejectsInvalidValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	err := WriteAtomic(path, &fakeDoc{})
	if !coreerr.Is(err, coreerr.Corrupted) {
		t.Fatalf("expected Corrupted error for invalid doc, got %v", err)
	}
}

func TestLockedUpdateAppliesMutatorAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	lockPath := filepath.Join(dir, "doc.lock")

	if err := WriteAtomic(path, &fakeDoc{Name: "seed", Count: 0}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	result, err := LockedUpdate(lockPath, path,
		func() *fakeDoc { return &fakeDoc{} },
		func(d *fakeDoc) error {
			d.Count++
			return nil
		})
	if err != nil {
		t.Fatalf("LockedUpdate failed: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("expected count=1, got %d", result.Count)
	}

	reread := &fakeDoc{}
	if err := ReadValidated(path, reread); err != nil {
		t.Fatalf("reread failed: %v", err)
	}
	if reread.Count != 1 {
		t.Fatalf("expected persisted count=1, got %d", reread.Count)
	}
}

func TestLockedUpdateSerializesConcurrentCallers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	lockPath := filepath.Join(dir, "doc.lock")

	if err := WriteAtomic(path, &fakeDoc{Name: "seed", Count: 0}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	var wg sync.WaitGroup
	const n = 25
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := LockedUpdate(lockPath, path,
				func() *fakeDoc { return &fakeDoc{} },
				func(d *fakeDoc) error {
					d.Count++
					return nil
				})
			if err != nil {
				t.Errorf("LockedUpdate failed: %v", err)
			}
		}()
	}
	wg.Wait()

	final := &fakeDoc{}
	if err := ReadValidated(path, final); err != nil {
		t.Fatalf("final read failed: %v", err)
	}
	if final.Count != n {
		t.Fatalf("expected count=%d after %d concurrent increments, got %d", n, n, final.Count)
	}
}

func TestLockedUpsertInsertsDefaultWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	lockPath := filepath.Join(dir, "doc.lock")

	result, err := LockedUpsert(lockPath, path,
		func() *fakeDoc { return &fakeDoc{Name: "default"} },
		func(d *fakeDoc) error {
			d.Count = 5
			return nil
		})
	if err != nil {
		t.Fatalf("LockedUpsert failed: %v", err)
	}
	if result.Name != "default" || result.Count != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
