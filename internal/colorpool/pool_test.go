package colorpool

import (
	"fmt"
	"testing"
	"time"

	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

func TestAllocateIsIdempotentPerAgent(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	pool := NewPool(paths)

	first, err := pool.Allocate("agent-1")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	second, err := pool.Allocate("agent-1")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected same color on repeat allocation, got %q then %q", first, second)
	}
}

func TestAllocateGivesDistinctColorsUntilPaletteExhausted(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	pool := NewPool(paths)

	seen := map[string]bool{}
	for i := 0; i < len(types.Palette); i++ {
		color, err := pool.Allocate(fmt.Sprintf("agent-%d", i))
		if err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
		if seen[color] {
			t.Fatalf("expected distinct colors, got repeat %q at agent %d", color, i)
		}
		seen[color] = true
	}
}

func TestAllocateFallsBackToLeastRecentlyUsedInactiveAgent(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	pool := NewPool(paths)

	for i := 0; i < len(types.Palette); i++ {
		if _, err := pool.Allocate(fmt.Sprintf("agent-%d", i)); err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
	}

	stale := &types.AgentState{
		ID:          "agent-0",
		Role:        types.RoleWorker,
		Status:      types.AgentInactive,
		HeartbeatTs: time.Now().Add(-time.Hour),
	}
	if err := storage.WriteAtomic(paths.AgentFile("agent-0"), stale); err != nil {
		t.Fatalf("seed stale agent failed: %v", err)
	}

	color, err := pool.Allocate("agent-new")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if color != types.Palette[0] {
		t.Fatalf("expected agent-0's reclaimed color %q, got %q", types.Palette[0], color)
	}
}

func TestReleaseFreesColorForReuse(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	pool := NewPool(paths)

	color, err := pool.Allocate("agent-1")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := pool.Release("agent-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	got, err := pool.Allocate("agent-2")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if got != color {
		t.Fatalf("expected released color %q to be reused, got %q", color, got)
	}
}
