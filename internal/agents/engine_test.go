package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/opencode-teams/core/internal/colorpool"
	"github.com/opencode-teams/core/internal/messaging"
	"github.com/opencode-teams/core/internal/panectl"
	"github.com/opencode-teams/core/internal/serverctl"
	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/tasks"
	"github.com/opencode-teams/core/internal/types"
)

// fakeTmux writes an executable shell script standing in for the tmux
// binary, mirroring internal/panectl's own test fixture so SpawnAgent can
// be exercised without a real terminal multiplexer.
func fakeTmux(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tmux script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "tmux")
	script := "#!/bin/sh\ncase \"$1\" in\n  has-session) exit 1 ;;\n  split-window) echo \"%5\" ;;\n  *) exit 0 ;;\nesac\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake tmux failed: %v", err)
	}
	return path
}

// fakeOpencodeServer simulates enough of the backing server's HTTP contract
// (health probe, session creation, message count/post) for SpawnAgent's
// orchestration to complete without shelling out to a real opencode binary.
func fakeOpencodeServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/session" && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]string{"id": "sess-1"})
		case r.Method == http.MethodPost:
			mu.Lock()
			count++
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			mu.Lock()
			n := count
			mu.Unlock()
			msgs := make([]map[string]string, n)
			json.NewEncoder(w).Encode(msgs)
		}
	}))
	return srv, nil
}

func seedServerInfo(t *testing.T, paths *storage.Paths, cwd, srvURL string) {
	t.Helper()
	u, err := url.Parse(srvURL)
	if err != nil {
		t.Fatalf("parse server url failed: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port failed: %v", err)
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		t.Fatalf("abs path failed: %v", err)
	}
	hash := types.ProjectHash(abs)
	if err := os.MkdirAll(paths.ServerDir(hash), 0755); err != nil {
		t.Fatalf("mkdir server dir failed: %v", err)
	}
	info := &types.ServerInfo{
		ProjectPath:    abs,
		ProjectHash:    hash,
		PID:            os.Getpid(),
		Port:           port,
		Hostname:       u.Hostname(),
		IsRunning:      true,
		ActiveSessions: 0,
		StartedAt:      time.Now(),
	}
	if err := storage.WriteAtomic(paths.ServerInfoFile(hash), info); err != nil {
		t.Fatalf("seed server info failed: %v", err)
	}
}

func seedTeam(t *testing.T, paths *storage.Paths) {
	t.Helper()
	team := &types.Team{
		Name:          "alpha",
		Topology:      types.TopologyFlat,
		LeaderAgentID: "leader-1",
		Members: []types.Member{
			{AgentID: "leader-1", DisplayName: "leader-1", Type: "leader", JoinedAt: time.Now()},
		},
	}
	if err := storage.WriteAtomic(paths.TeamConfig("alpha"), team); err != nil {
		t.Fatalf("seed team failed: %v", err)
	}
}

func newTestEngine(t *testing.T, paths *storage.Paths) *Engine {
	t.Helper()
	return NewEngine(
		paths,
		nil,
		colorpool.NewPool(paths),
		panectl.NewController(fakeTmux(t)),
		serverctl.NewEngine(paths),
		tasks.NewEngine(paths, nil),
		messaging.NewEngine(paths),
	)
}

func TestSpawnAgentRegistersAndActivates(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	seedTeam(t, paths)
	cwd := t.TempDir()

	srv, _ := fakeOpencodeServer(t)
	defer srv.Close()
	seedServerInfo(t, paths, cwd, srv.URL)

	eng := newTestEngine(t, paths)

	agent, err := eng.SpawnAgent(context.Background(), SpawnAgentInput{
		Team:          "alpha",
		Name:          "worker-one",
		Role:          types.RoleWorker,
		Cwd:           cwd,
		InitialPrompt: "start working",
	})
	if err != nil {
		t.Fatalf("SpawnAgent failed: %v", err)
	}
	if agent.Status != types.AgentActive {
		t.Fatalf("expected status active, got %s", agent.Status)
	}
	if agent.SessionID != "sess-1" {
		t.Fatalf("expected session id sess-1, got %q", agent.SessionID)
	}
	if agent.PaneID != "%5" {
		t.Fatalf("expected pane id %%5, got %q", agent.PaneID)
	}
	if agent.Color == "" {
		t.Fatalf("expected a color to be allocated")
	}

	team := &types.Team{}
	if err := storage.ReadValidated(paths.TeamConfig("alpha"), team); err != nil {
		t.Fatalf("read team failed: %v", err)
	}
	if !team.IsMember(agent.ID) {
		t.Fatalf("expected spawned agent to be registered as a team member")
	}
}

func TestIdleAgentIDsFiltersByStatus(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	seedTeam(t, paths)

	active := &types.AgentState{ID: "a1", TeamName: "alpha", Role: types.RoleWorker, Status: types.AgentActive}
	idle := &types.AgentState{ID: "a2", TeamName: "alpha", Role: types.RoleWorker, Status: types.AgentIdle}
	if err := storage.WriteAtomic(paths.AgentFile("a1"), active); err != nil {
		t.Fatalf("seed a1 failed: %v", err)
	}
	if err := storage.WriteAtomic(paths.AgentFile("a2"), idle); err != nil {
		t.Fatalf("seed a2 failed: %v", err)
	}
	if _, err := storage.LockedUpdate(
		paths.TeamLock("alpha"), paths.TeamConfig("alpha"),
		func() *types.Team { return &types.Team{} },
		func(c *types.Team) error {
			c.Members = append(c.Members, types.Member{AgentID: "a1", DisplayName: "a1", Type: "worker", JoinedAt: time.Now()})
			c.Members = append(c.Members, types.Member{AgentID: "a2", DisplayName: "a2", Type: "worker", JoinedAt: time.Now()})
			return nil
		},
	); err != nil {
		t.Fatalf("register members failed: %v", err)
	}

	eng := newTestEngine(t, paths)
	ids, err := eng.IdleAgentIDs("alpha")
	if err != nil {
		t.Fatalf("IdleAgentIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a2" {
		t.Fatalf("expected only a2 to be idle, got %v", ids)
	}
}

func TestHeartbeatResetsConsecutiveMisses(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	agent := &types.AgentState{ID: "a1", TeamName: "alpha", Role: types.RoleWorker, Status: types.AgentActive, ConsecutiveMisses: 3}
	if err := storage.WriteAtomic(paths.AgentFile("a1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}

	eng := newTestEngine(t, paths)
	updated, err := eng.Heartbeat("a1", nil)
	if err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if updated.ConsecutiveMisses != 0 {
		t.Fatalf("expected consecutiveMisses reset to 0, got %d", updated.ConsecutiveMisses)
	}
}

func TestKillAgentLeaderCannotKillItself(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	seedTeam(t, paths)
	agent := &types.AgentState{ID: "leader-1", TeamName: "alpha", Role: types.RoleLeader, Status: types.AgentActive}
	if err := storage.WriteAtomic(paths.AgentFile("leader-1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}

	eng := newTestEngine(t, paths)
	err := eng.KillAgent(context.Background(), "alpha", "leader-1", "leader-1", false)
	if err == nil {
		t.Fatalf("expected error when leader attempts to kill itself")
	}
}

func TestKillAgentForceTearsDownWithoutNegotiation(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	seedTeam(t, paths)
	cwd := t.TempDir()

	agent := &types.AgentState{
		ID: "worker-1", TeamName: "alpha", Role: types.RoleWorker,
		Status: types.AgentActive, PaneID: "%5", Color: "#ff0000", Cwd: cwd,
	}
	if err := storage.WriteAtomic(paths.AgentFile("worker-1"), agent); err != nil {
		t.Fatalf("seed agent failed: %v", err)
	}
	if _, err := storage.LockedUpdate(
		paths.TeamLock("alpha"), paths.TeamConfig("alpha"),
		func() *types.Team { return &types.Team{} },
		func(c *types.Team) error {
			c.Members = append(c.Members, types.Member{AgentID: "worker-1", DisplayName: "worker-1", Type: "worker", JoinedAt: time.Now()})
			return nil
		},
	); err != nil {
		t.Fatalf("register member failed: %v", err)
	}

	eng := newTestEngine(t, paths)
	if err := eng.KillAgent(context.Background(), "alpha", "leader-1", "worker-1", true); err != nil {
		t.Fatalf("KillAgent (force) failed: %v", err)
	}

	final, err := eng.readAgent("worker-1")
	if err != nil {
		t.Fatalf("read agent failed: %v", err)
	}
	if final.Status != types.AgentTerminated {
		t.Fatalf("expected status terminated, got %s", final.Status)
	}

	team := &types.Team{}
	if err := storage.ReadValidated(paths.TeamConfig("alpha"), team); err != nil {
		t.Fatalf("read team failed: %v", err)
	}
	if team.IsMember("worker-1") {
		t.Fatalf("expected worker-1 removed from team members")
	}
}
