package roles

import (
	"testing"

	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

func TestAllowHostInitiatedAlwaysAllowed(t *testing.T) {
	checker := NewChecker(storage.NewPaths(t.TempDir()))

	ok, err := checker.Allow("alpha", "", "delete-team")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected host-initiated call (empty agentID) to always be allowed")
	}
}

func TestAllowDefaultWorkerDeniedSpawnTeam(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	checker := NewChecker(paths)

	agent := &types.AgentState{ID: "worker-1", Role: types.RoleWorker, Status: types.AgentActive}
	if err := storage.WriteAtomic(paths.AgentFile("worker-1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}

	ok, err := checker.Allow("alpha", "worker-1", "spawn-team")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if ok {
		t.Fatalf("expected default worker role to be denied spawn-team")
	}
}

func TestAllowDefaultWorkerPermittedClaimTask(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	checker := NewChecker(paths)

	agent := &types.AgentState{ID: "worker-1", Role: types.RoleWorker, Status: types.AgentActive}
	if err := storage.WriteAtomic(paths.AgentFile("worker-1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}

	ok, err := checker.Allow("alpha", "worker-1", "claim-task")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected default worker role to be implicitly allowed claim-task")
	}
}

func TestAllowDefaultLeaderDeniedClaimTask(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	checker := NewChecker(paths)

	agent := &types.AgentState{ID: "leader-1", Role: types.RoleLeader, Status: types.AgentActive}
	if err := storage.WriteAtomic(paths.AgentFile("leader-1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}

	ok, err := checker.Allow("alpha", "leader-1", "claim-task")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if ok {
		t.Fatalf("expected default leader role to be denied claim-task")
	}
}

func TestAllowReviewerWhitelistDeniesUnlistedTool(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	checker := NewChecker(paths)

	agent := &types.AgentState{ID: "rev-1", Role: types.RoleReviewer, Status: types.AgentActive}
	if err := storage.WriteAtomic(paths.AgentFile("rev-1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}

	ok, err := checker.Allow("alpha", "rev-1", "spawn-agent")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if ok {
		t.Fatalf("expected reviewer whitelist to deny a tool outside its AllowedTools")
	}

	ok, err = checker.Allow("alpha", "rev-1", "update-task")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected reviewer whitelist to allow update-task")
	}
}

func TestAllowTeamDefinedRoleOverridesDefault(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	checker := NewChecker(paths)

	team := &types.Team{
		Name:          "alpha",
		Topology:      types.TopologyFlat,
		LeaderAgentID: "leader-1",
		Members: []types.Member{
			{AgentID: "leader-1", DisplayName: "leader-1", Type: "leader"},
			{AgentID: "worker-1", DisplayName: "worker-1", Type: "worker"},
		},
		Roles: []types.RoleDefinition{
			{Name: string(types.RoleWorker), DeniedTools: []string{"claim-task"}},
		},
	}
	if err := storage.WriteAtomic(paths.TeamConfig("alpha"), team); err != nil {
		t.Fatalf("seed team failed: %v", err)
	}
	agent := &types.AgentState{ID: "worker-1", Role: types.RoleWorker, Status: types.AgentActive}
	if err := storage.WriteAtomic(paths.AgentFile("worker-1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}

	ok, err := checker.Allow("alpha", "worker-1", "claim-task")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if ok {
		t.Fatalf("expected team-defined role override to deny claim-task")
	}
}

func TestAllowUnreadableAgentStateDefaultsToWorker(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	checker := NewChecker(paths)

	ok, err := checker.Allow("alpha", "ghost-agent", "spawn-team")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if ok {
		t.Fatalf("expected unreadable agent state to default to worker role (denied spawn-team)")
	}
}
