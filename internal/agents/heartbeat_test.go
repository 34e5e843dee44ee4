package agents

import (
	"testing"
	"time"

	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

func TestSweepOnceIgnoresFreshHeartbeat(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	seedTeam(t, paths)
	agent := &types.AgentState{ID: "a1", TeamName: "alpha", Role: types.RoleWorker, Status: types.AgentActive, HeartbeatTs: time.Now()}
	if err := storage.WriteAtomic(paths.AgentFile("a1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}

	eng := newTestEngine(t, paths)
	eng.sweepOnce()

	got, err := eng.readAgent("a1")
	if err != nil {
		t.Fatalf("read agent failed: %v", err)
	}
	if got.ConsecutiveMisses != 0 {
		t.Fatalf("expected no missed heartbeats recorded for a fresh agent, got %d", got.ConsecutiveMisses)
	}
}

func TestSweepOnceDemotesAfterGraceMisses(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	seedTeam(t, paths)
	stale := time.Now().Add(-2 * staleThreshold)
	agent := &types.AgentState{
		ID: "a1", TeamName: "alpha", Role: types.RoleWorker,
		Status: types.AgentActive, HeartbeatTs: stale, ConsecutiveMisses: staleMissGrace - 1,
	}
	if err := storage.WriteAtomic(paths.AgentFile("a1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}

	eng := newTestEngine(t, paths)
	eng.sweepOnce()

	got, err := eng.readAgent("a1")
	if err != nil {
		t.Fatalf("read agent failed: %v", err)
	}
	if got.Status != types.AgentInactive {
		t.Fatalf("expected status inactive after reaching miss grace, got %s", got.Status)
	}
}

func TestSweepOnceSkipsTerminatedAgents(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	stale := time.Now().Add(-2 * staleThreshold)
	agent := &types.AgentState{ID: "a1", TeamName: "alpha", Role: types.RoleWorker, Status: types.AgentTerminated, HeartbeatTs: stale}
	if err := storage.WriteAtomic(paths.AgentFile("a1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}

	eng := newTestEngine(t, paths)
	eng.sweepOnce()

	got, err := eng.readAgent("a1")
	if err != nil {
		t.Fatalf("read agent failed: %v", err)
	}
	if got.ConsecutiveMisses != 0 || got.Status != types.AgentTerminated {
		t.Fatalf("expected terminated agent left untouched, got status=%s misses=%d", got.Status, got.ConsecutiveMisses)
	}
}
