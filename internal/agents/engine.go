// Package agents orchestrates the agent subprocess lifecycle:
// spawnAgent's validate/allocate/pane-split/register/prompt
// sequence, explicit and passive heartbeats, the stale sweep, and
// graceful/forced shutdown. Grounded on internal/agents/spawner.go
// (ProcessSpawner's pane-tracking, spawnMu-serialized spawn,
// multi-step StopAgentWithReason teardown) and
// internal/server/heartbeat.go (stale-sweep ticker shape), generalized
// from WezTerm-tab bookkeeping to tmux panes fronted by internal/panectl
// and internal/serverctl.
package agents

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-teams/core/internal/colorpool"
	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/messaging"
	"github.com/opencode-teams/core/internal/panectl"
	"github.com/opencode-teams/core/internal/serverctl"
	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/tasks"
	"github.com/opencode-teams/core/internal/types"
)

// Emitter publishes domain events; internal/events.Bus satisfies this.
type Emitter interface {
	Emit(evt types.Event)
}

// Engine is the agent-lifecycle handle, composing the color pool, pane
// controller, server controller, task engine, and messaging engine the
// spawnAgent/kill/heartbeat operations need.
type Engine struct {
	paths    *storage.Paths
	emitter  Emitter
	colors   *colorpool.Pool
	panes    *panectl.Controller
	servers  *serverctl.Engine
	tasks    *tasks.Engine
	messages *messaging.Engine

	spawnMu sync.Mutex // serializes spawn orchestration, mirroring spawnMu
}

// NewEngine constructs an agent-lifecycle Engine.
func NewEngine(paths *storage.Paths, emitter Emitter, colors *colorpool.Pool, panes *panectl.Controller, servers *serverctl.Engine, taskEng *tasks.Engine, msgEng *messaging.Engine) *Engine {
	return &Engine{
		paths:    paths,
		emitter:  emitter,
		colors:   colors,
		panes:    panes,
		servers:  servers,
		tasks:    taskEng,
		messages: msgEng,
	}
}

func (e *Engine) emit(evt types.Event) {
	if e.emitter == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	e.emitter.Emit(evt)
}

func (e *Engine) readTeam(team string) (*types.Team, error) {
	t := &types.Team{}
	if err := storage.ReadValidated(e.paths.TeamConfig(team), t); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) readAgent(agentID string) (*types.AgentState, error) {
	a := &types.AgentState{}
	if err := storage.ReadValidated(e.paths.AgentFile(agentID), a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAgentStatus returns the persisted state of one agent, for the
// get-agent-status tool surface.
func (e *Engine) GetAgentStatus(agentID string) (*types.AgentState, error) {
	return e.readAgent(agentID)
}

// IdleAgentIDs implements dispatch.AgentProvider: every member of team
// whose AgentState status is idle.
func (e *Engine) IdleAgentIDs(team string) ([]string, error) {
	cfg, err := e.readTeam(team)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range cfg.Members {
		agent, err := e.readAgent(m.AgentID)
		if err != nil {
			continue
		}
		if agent.Status == types.AgentIdle {
			out = append(out, m.AgentID)
		}
	}
	return out, nil
}

// ensureMultiplexer implements "ensure multiplexer available":
// a tmux session named for the team, created if it does not yet exist.
func (e *Engine) ensureMultiplexer(ctx context.Context, team, cwd string) error {
	has, err := e.panes.HasSession(ctx, team)
	if err != nil {
		return coreerr.Unavailablef("failed to query tmux session %q: %v", team, err)
	}
	if has {
		return nil
	}
	if err := e.panes.NewSession(ctx, team, cwd); err != nil {
		return coreerr.Unavailablef("failed to create tmux session %q: %v", team, err)
	}
	return nil
}

// SpawnAgentInput is spawnAgent's request shape.
type SpawnAgentInput struct {
	Team          string
	Name          string
	Role          types.AgentRole
	Model         string
	ProviderID    string
	Cwd           string
	InitialPrompt string
}

// SpawnAgent implements the spawnAgent orchestration: validate
// team exists, ensure multiplexer and server, create a session, allocate
// a color, split a pane, attach, register, and send the initial prompt.
// On any failure before registration the color and pane are released; a
// failure after registration but before the prompt leaves the agent in
// spawning for manual recovery.
func (e *Engine) SpawnAgent(ctx context.Context, input SpawnAgentInput) (*types.AgentState, error) {
	e.spawnMu.Lock()
	defer e.spawnMu.Unlock()

	team, err := e.readTeam(input.Team)
	if err != nil {
		return nil, err
	}

	if err := e.ensureMultiplexer(ctx, input.Team, input.Cwd); err != nil {
		return nil, err
	}

	info, err := e.servers.EnsureRunning(ctx, input.Cwd)
	if err != nil {
		return nil, err
	}

	agentID := fmt.Sprintf("%s-%s", input.Team, uuid.NewString()[:8])
	role := input.Role
	if role == "" {
		role = types.RoleWorker
	}

	title := serverctl.SessionTitle(input.Team, agentID, string(role))
	sessionID, err := e.servers.CreateSession(ctx, info, title, input.Cwd)
	if err != nil {
		return nil, err
	}

	color, err := e.colors.Allocate(agentID)
	if err != nil {
		return nil, err
	}

	paneID, err := e.panes.SplitWindow(ctx, input.Team, input.Cwd)
	if err != nil {
		e.colors.Release(agentID)
		return nil, coreerr.Unavailablef("failed to split pane for agent %q: %v", agentID, err)
	}

	cleanupPaneAndColor := func() {
		e.panes.KillPane(context.Background(), paneID)
		e.colors.Release(agentID)
	}

	attachCmd := fmt.Sprintf("opencode attach --session %s http://%s:%d", sessionID, info.Hostname, info.Port)
	if err := e.panes.SendKeys(ctx, paneID, attachCmd); err != nil {
		cleanupPaneAndColor()
		return nil, coreerr.Unavailablef("failed to send attach command for agent %q: %v", agentID, err)
	}
	if err := e.panes.SelectPaneTitle(ctx, paneID, agentID); err != nil {
		log.Printf("[AGENTS] WARNING: failed to set pane title for agent %q: %v", agentID, err)
	}
	if err := e.panes.SetOption(ctx, paneID, "@opencode_session_id", sessionID); err != nil {
		log.Printf("[AGENTS] WARNING: failed to stamp session id option for agent %q: %v", agentID, err)
	}
	if err := e.panes.SelectLayout(ctx, input.Team, "tiled"); err != nil {
		log.Printf("[AGENTS] WARNING: failed to re-layout session %q: %v", input.Team, err)
	}

	now := time.Now()
	agent := &types.AgentState{
		ID:            agentID,
		Name:          input.Name,
		TeamName:      input.Team,
		Role:          role,
		Model:         input.Model,
		ProviderID:    input.ProviderID,
		SessionID:     sessionID,
		PaneID:        paneID,
		ServerPort:    info.Port,
		Cwd:           input.Cwd,
		InitialPrompt: input.InitialPrompt,
		Color:         color,
		Status:        types.AgentSpawning,
		CreatedAt:     now,
		HeartbeatTs:   now,
	}
	agent.RefreshIsActive()
	if err := storage.WriteAtomic(e.paths.AgentFile(agentID), agent); err != nil {
		cleanupPaneAndColor()
		return nil, err
	}
	if _, err := storage.LockedUpdate(
		e.paths.TeamLock(input.Team),
		e.paths.TeamConfig(input.Team),
		func() *types.Team { return &types.Team{} },
		func(c *types.Team) error {
			if c.IsMember(agentID) {
				return nil
			}
			c.Members = append(c.Members, types.Member{
				AgentID:     agentID,
				DisplayName: input.Name,
				Type:        string(role),
				JoinedAt:    now,
			})
			return nil
		},
	); err != nil {
		cleanupPaneAndColor()
		return nil, err
	}
	if err := e.incrementServerSessions(input.Cwd, 1); err != nil {
		log.Printf("[AGENTS] WARNING: failed to increment server session count for agent %q: %v", agentID, err)
	}

	// Registration succeeded; a prompt-delivery failure from here on keeps
	// the agent in spawning for manual recovery rather than tearing down.
	ok, err := e.servers.SendPromptReliable(ctx, info, sessionID, input.InitialPrompt)
	if err != nil || !ok {
		log.Printf("[AGENTS] WARNING: initial prompt delivery for agent %q did not confirm; leaving status=spawning", agentID)
		return agent, nil
	}

	agent, err = e.transitionStatus(agentID, types.AgentActive)
	if err != nil {
		return nil, err
	}

	_ = team // validated existence before committing to the spawn sequence
	return agent, nil
}

// transitionStatus applies a validated status transition to an agent,
// refreshing isActive and updatedAt.
func (e *Engine) transitionStatus(agentID string, to types.AgentStatus) (*types.AgentState, error) {
	agent, err := storage.LockedUpdate(
		e.paths.AgentsLock(),
		e.paths.AgentFile(agentID),
		func() *types.AgentState { return &types.AgentState{} },
		func(a *types.AgentState) error {
			if !types.CanTransitionAgent(a.Status, to) {
				return coreerr.Validationf("agent %q cannot transition %s -> %s", agentID, a.Status, to)
			}
			a.Status = to
			a.RefreshIsActive()
			now := time.Now()
			a.UpdatedAt = &now
			if to == types.AgentTerminated {
				a.TerminatedAt = &now
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	switch to {
	case types.AgentIdle:
		e.emit(types.Event{Type: types.EventAgentIdle, TeamName: agent.TeamName, Payload: map[string]interface{}{"agentId": agentID}})
	case types.AgentTerminated:
		e.emit(types.Event{Type: types.EventAgentTerminated, TeamName: agent.TeamName, Payload: map[string]interface{}{"agentId": agentID}})
	}
	return agent, nil
}

func (e *Engine) incrementServerSessions(cwd string, delta int) error {
	hash := types.ProjectHash(absOrSame(cwd))
	_, err := storage.LockedUpdate(
		e.paths.ServerLock(hash),
		e.paths.ServerInfoFile(hash),
		func() *types.ServerInfo { return &types.ServerInfo{} },
		func(s *types.ServerInfo) error {
			s.ActiveSessions += delta
			if s.ActiveSessions < 0 {
				s.ActiveSessions = 0
			}
			return nil
		},
	)
	return err
}

func absOrSame(p string) string {
	abs, err := filepathAbs(p)
	if err != nil {
		return p
	}
	return abs
}

// Heartbeat implements the explicit heartbeat(agentId) tool call.
func (e *Engine) Heartbeat(agentID string, status *types.AgentStatus) (*types.AgentState, error) {
	return storage.LockedUpdate(
		e.paths.AgentsLock(),
		e.paths.AgentFile(agentID),
		func() *types.AgentState { return &types.AgentState{} },
		func(a *types.AgentState) error {
			a.HeartbeatTs = time.Now()
			a.ConsecutiveMisses = 0
			if status != nil && *status != a.Status {
				if !types.CanTransitionAgent(a.Status, *status) {
					return coreerr.Validationf("agent %q cannot transition %s -> %s", agentID, a.Status, *status)
				}
				a.Status = *status
			}
			a.RefreshIsActive()
			return nil
		},
	)
}

// KillAgent implements the shutdown/kill. Graceful requires
// callerID to be team's leader and negotiates a shutdown_approved
// message from target before tearing down; force skips negotiation and
// is best-effort on pane cleanup. The leader cannot kill itself through
// this path.
func (e *Engine) KillAgent(ctx context.Context, team, callerID, targetID string, force bool) error {
	cfg, err := e.readTeam(team)
	if err != nil {
		return err
	}
	if targetID == cfg.LeaderAgentID {
		return coreerr.Validationf("leader %q cannot kill itself via kill-agent", targetID)
	}
	if !force && callerID != cfg.LeaderAgentID {
		return coreerr.Permissionf("only the team leader may gracefully kill agent %q", targetID)
	}

	agent, err := e.readAgent(targetID)
	if err != nil {
		return err
	}
	if !force && agent.Status != types.AgentActive {
		return coreerr.PreconditionFailedf("agent %q is not active (status=%s)", targetID, agent.Status)
	}

	if !force {
		if err := e.messages.SendTyped(team, targetID, "shutdown requested", types.MessageShutdownRequest, callerID); err != nil {
			return err
		}
		if _, err := e.transitionStatus(targetID, types.AgentShuttingDown); err != nil {
			return err
		}
		if !e.awaitShutdownApproval(team, callerID, targetID, 30*time.Second) {
			return coreerr.Unavailablef("agent %q did not approve shutdown in time; left shutting_down for retry", targetID)
		}
	}

	return e.teardownAgent(ctx, team, agent, force)
}

// awaitShutdownApproval polls callerID's inbox for a shutdown_approved
// message sent by targetID, within budget.
func (e *Engine) awaitShutdownApproval(team, callerID, targetID string, budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	since := time.Now().Add(-time.Second)
	for time.Now().Before(deadline) {
		msgs, err := e.messages.ReadMessages(team, callerID, &since)
		if err == nil {
			for _, m := range msgs {
				if m.Type == types.MessageShutdownApproved && m.From == targetID {
					return true
				}
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

// teardownAgent performs shared teardown tail: reassign tasks,
// kill the pane, release the color, mark terminated, remove from
// members, decrement server sessions, and reap the server if idle.
func (e *Engine) teardownAgent(ctx context.Context, team string, agent *types.AgentState, bestEffort bool) error {
	if _, err := e.tasks.ReassignAgentTasks(team, agent.ID); err != nil && !bestEffort {
		return err
	}
	if agent.PaneID != "" {
		if err := e.panes.KillPane(ctx, agent.PaneID); err != nil && !bestEffort {
			return err
		}
	}
	if err := e.colors.Release(agent.ID); err != nil && !bestEffort {
		return err
	}
	if _, err := e.transitionStatus(agent.ID, types.AgentTerminated); err != nil {
		return err
	}
	if err := e.removeMember(team, agent.ID); err != nil && !bestEffort {
		return err
	}
	if err := e.incrementServerSessions(agent.Cwd, -1); err != nil {
		log.Printf("[AGENTS] WARNING: failed to decrement server sessions for %q: %v", agent.ID, err)
	}
	e.reapServerIfIdle(ctx, agent.Cwd)
	return nil
}

func (e *Engine) removeMember(team, agentID string) error {
	_, err := storage.LockedUpdate(
		e.paths.TeamLock(team),
		e.paths.TeamConfig(team),
		func() *types.Team { return &types.Team{} },
		func(c *types.Team) error {
			filtered := c.Members[:0]
			for _, m := range c.Members {
				if m.AgentID != agentID {
					filtered = append(filtered, m)
				}
			}
			c.Members = filtered
			return nil
		},
	)
	return err
}

func (e *Engine) reapServerIfIdle(ctx context.Context, cwd string) {
	hash := types.ProjectHash(absOrSame(cwd))
	info := &types.ServerInfo{}
	if err := storage.ReadValidated(e.paths.ServerInfoFile(hash), info); err != nil {
		return
	}
	if info.ActiveSessions > 0 {
		return
	}
	if err := e.servers.Stop(ctx, cwd); err != nil {
		log.Printf("[AGENTS] WARNING: failed to reap idle server for %q: %v", cwd, err)
	}
}

func filepathAbs(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return wd + "/" + p, nil
}
