package agents

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-teams/core/internal/serverctl"
	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

// staleSweepInterval, staleThreshold, and staleMissGrace drive the
// stale-agent sweep: a 15s ticker flags an agent stale once its
// heartbeat is more than 60s old, and two consecutive misses (a 75-90s
// effective detection window against the 30s heartbeat cadence) demote
// it to inactive.
const (
	staleSweepInterval = 15 * time.Second
	staleThreshold     = 60 * time.Second
	staleMissGrace     = 2
)

// StartStaleSweep runs the stale-agent sweep until ctx is cancelled,
// grounded on internal/server/heartbeat.go's
// StartHeartbeatChecker: a ticker loop that copies the active agent set
// under lock, then evaluates each outside the lock.
func (e *Engine) StartStaleSweep(ctx context.Context) {
	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce()
		}
	}
}

func (e *Engine) sweepOnce() {
	entries, err := os.ReadDir(e.paths.AgentsDir())
	if err != nil {
		return
	}
	now := time.Now()
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(ent.Name(), ".json")
		agent, err := e.readAgent(id)
		if err != nil {
			continue
		}
		if agent.Status != types.AgentActive && agent.Status != types.AgentIdle {
			continue
		}
		if now.Sub(agent.HeartbeatTs) <= staleThreshold {
			continue
		}
		e.handleStaleAgent(id)
	}
}

// handleStaleAgent increments consecutiveMisses, and once it reaches the
// grace count, demotes the agent to inactive, reassigns its in-progress
// tasks, and notifies the team's leader.
func (e *Engine) handleStaleAgent(agentID string) {
	agent, err := storage.LockedUpdate(
		e.paths.AgentsLock(),
		e.paths.AgentFile(agentID),
		func() *types.AgentState { return &types.AgentState{} },
		func(a *types.AgentState) error {
			a.ConsecutiveMisses++
			return nil
		},
	)
	if err != nil {
		log.Printf("[AGENTS] WARNING: failed to record missed heartbeat for %q: %v", agentID, err)
		return
	}
	if agent.ConsecutiveMisses < staleMissGrace {
		return
	}

	if _, err := e.transitionStatus(agentID, types.AgentInactive); err != nil {
		log.Printf("[AGENTS] WARNING: failed to demote stale agent %q to inactive: %v", agentID, err)
		return
	}
	reassigned, err := e.tasks.ReassignAgentTasks(agent.TeamName, agentID)
	if err != nil {
		log.Printf("[AGENTS] WARNING: failed to reassign tasks for stale agent %q: %v", agentID, err)
	} else if len(reassigned) > 0 {
		log.Printf("[AGENTS] reassigned %d task(s) from stale agent %q", len(reassigned), agentID)
	}

	team, err := e.readTeam(agent.TeamName)
	if err != nil {
		return
	}
	if team.LeaderAgentID == "" || team.LeaderAgentID == agentID {
		return
	}
	if err := e.messages.Write(agent.TeamName, team.LeaderAgentID, "agent "+agentID+" missed "+strconv.Itoa(staleMissGrace)+" consecutive heartbeats and was marked inactive", agentID); err != nil {
		log.Printf("[AGENTS] WARNING: failed to notify leader of stale agent %q: %v", agentID, err)
	}
}

// StartSessionMonitor is a passive SSE consumer: it reconnects to info's
// event stream until ctx is cancelled, updating heartbeats and driving
// active/idle transitions from session lifecycle events, and routing
// session.error to recoverSession.
func (e *Engine) StartSessionMonitor(ctx context.Context, info *types.ServerInfo) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := e.servers.ConsumeEvents(ctx, info, func(evt serverctl.SSEEvent) {
			e.handleSessionEvent(ctx, evt)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[AGENTS] WARNING: session event stream for %q disconnected: %v; reconnecting", info.ProjectPath, err)
		}
		time.Sleep(2 * time.Second)
	}
}

func (e *Engine) findAgentBySession(sessionID string) (*types.AgentState, error) {
	entries, err := os.ReadDir(e.paths.AgentsDir())
	if err != nil {
		return nil, err
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(ent.Name(), ".json")
		agent, err := e.readAgent(id)
		if err != nil {
			continue
		}
		if agent.SessionID == sessionID {
			return agent, nil
		}
	}
	return nil, os.ErrNotExist
}

func (e *Engine) handleSessionEvent(ctx context.Context, evt serverctl.SSEEvent) {
	agent, err := e.findAgentBySession(evt.SessionID)
	if err != nil {
		return
	}

	switch evt.Type {
	case "session.idle":
		e.touchHeartbeat(agent.ID)
		if agent.Status == types.AgentActive {
			e.transitionStatus(agent.ID, types.AgentIdle)
		}
	case "session.updated", "tool.execute.after":
		e.touchHeartbeat(agent.ID)
		if agent.Status == types.AgentIdle {
			e.transitionStatus(agent.ID, types.AgentActive)
		}
	case "session.error":
		e.recoverSession(ctx, agent)
	}
}

func (e *Engine) touchHeartbeat(agentID string) {
	if _, err := storage.LockedUpdate(
		e.paths.AgentsLock(),
		e.paths.AgentFile(agentID),
		func() *types.AgentState { return &types.AgentState{} },
		func(a *types.AgentState) error {
			a.HeartbeatTs = time.Now()
			a.ConsecutiveMisses = 0
			return nil
		},
	); err != nil {
		log.Printf("[AGENTS] WARNING: failed to record passive heartbeat for %q: %v", agentID, err)
	}
}

// recoverSession implements context-limit recovery: capture recent
// pane scrollback, open a fresh session, re-attach the pane to it, and
// send a continuation prompt, bumping sessionRotationCount.
func (e *Engine) recoverSession(ctx context.Context, agent *types.AgentState) {
	recent, err := e.panes.CapturePane(ctx, agent.PaneID, 200)
	if err != nil {
		log.Printf("[AGENTS] WARNING: failed to capture pane before session recovery for %q: %v", agent.ID, err)
	}

	hash := types.ProjectHash(absOrSame(agent.Cwd))
	info := &types.ServerInfo{}
	if err := storage.ReadValidated(e.paths.ServerInfoFile(hash), info); err != nil {
		log.Printf("[AGENTS] WARNING: cannot recover session for %q: server info unavailable: %v", agent.ID, err)
		return
	}

	title := serverctl.SessionTitle(agent.TeamName, agent.ID, string(agent.Role))
	newSessionID, err := e.servers.CreateSession(ctx, info, title, agent.Cwd)
	if err != nil {
		log.Printf("[AGENTS] WARNING: failed to create recovery session for %q: %v", agent.ID, err)
		return
	}

	attachCmd := "opencode attach --session " + newSessionID + " http://" + info.Hostname + ":" + strconv.Itoa(info.Port)
	if err := e.panes.SendKeys(ctx, agent.PaneID, attachCmd); err != nil {
		log.Printf("[AGENTS] WARNING: failed to re-attach pane during session recovery for %q: %v", agent.ID, err)
		return
	}

	continuation := "Continuing after a session error. Recent context:\n" + recent
	if _, err := e.servers.SendPromptReliable(ctx, info, newSessionID, continuation); err != nil {
		log.Printf("[AGENTS] WARNING: continuation prompt delivery failed for %q: %v", agent.ID, err)
	}

	if _, err := storage.LockedUpdate(
		e.paths.AgentsLock(),
		e.paths.AgentFile(agent.ID),
		func() *types.AgentState { return &types.AgentState{} },
		func(a *types.AgentState) error {
			a.SessionID = newSessionID
			a.SessionRotationCount++
			a.LastError = "recovered from session.error"
			a.HeartbeatTs = time.Now()
			return nil
		},
	); err != nil {
		log.Printf("[AGENTS] WARNING: failed to persist session rotation for %q: %v", agent.ID, err)
	}
}
