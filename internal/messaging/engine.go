// Package messaging implements per-agent append-only inboxes and the
// shutdown-approval protocol: write, broadcast, sendTyped,
// readMessages, pollInbox, requestShutdown, approveShutdown, shouldShutdown.
// All delivery is pull-based; there is no push channel.
package messaging

import (
	"os"
	"time"

	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

// pollInterval drives pollInbox's polling contract: sleep 500ms between
// checks, guaranteeing detection more often than once per second while
// never blocking past the caller's timeout.
const pollInterval = 500 * time.Millisecond

// Engine is the messaging engine handle.
type Engine struct {
	paths *storage.Paths
}

// NewEngine constructs a messaging Engine.
func NewEngine(paths *storage.Paths) *Engine {
	return &Engine{paths: paths}
}

func (e *Engine) readTeam(team string) (*types.Team, error) {
	t := &types.Team{}
	if err := storage.ReadValidated(e.paths.TeamConfig(team), t); err != nil {
		return nil, err
	}
	return t, nil
}

func emptyInbox(agentID string) *types.Inbox {
	return &types.Inbox{AgentID: agentID, Messages: []types.Message{}}
}

func (e *Engine) appendToInbox(team, agentID string, msg types.Message) error {
	_, err := storage.LockedUpsert(
		e.paths.InboxLock(team, agentID),
		e.paths.InboxFile(team, agentID),
		func() *types.Inbox { return emptyInbox(agentID) },
		func(ib *types.Inbox) error {
			ib.Messages = append(ib.Messages, msg)
			return nil
		},
	)
	return err
}

// Write implements write(team, toAgent, body, fromAgent).
func (e *Engine) Write(team, toAgent, body, fromAgent string) error {
	return e.SendTyped(team, toAgent, body, types.MessagePlain, fromAgent)
}

// SendTyped implements sendTyped, validating toAgent is a team
// member under the team lock before delivering.
func (e *Engine) SendTyped(team, toAgent, body string, msgType types.MessageType, fromAgent string) error {
	err := storage.WithLockFile(e.paths.TeamLock(team), func() error {
		cfg, err := e.readTeam(team)
		if err != nil {
			return err
		}
		if !cfg.IsMember(toAgent) {
			return coreerr.NotFoundf("agent %q is not a member of team %q", toAgent, team)
		}
		return nil
	})
	if err != nil {
		return err
	}

	msg := types.Message{
		From:      fromAgent,
		To:        toAgent,
		Body:      body,
		Type:      msgType,
		Timestamp: time.Now(),
		Read:      false,
	}
	return e.appendToInbox(team, toAgent, msg)
}

// Broadcast implements broadcast: deliver a copy to every member's
// inbox except the sender's.
func (e *Engine) Broadcast(team, body, fromAgent string) error {
	var members []string
	err := storage.WithLockFile(e.paths.TeamLock(team), func() error {
		cfg, err := e.readTeam(team)
		if err != nil {
			return err
		}
		members = cfg.MemberIDs()
		return nil
	})
	if err != nil {
		return err
	}

	now := time.Now()
	for _, m := range members {
		if m == fromAgent {
			continue
		}
		msg := types.Message{
			From:       fromAgent,
			To:         types.BroadcastTarget,
			Body:       body,
			Type:       types.MessagePlain,
			Timestamp:  now,
			Read:       false,
			Recipients: members,
		}
		if err := e.appendToInbox(team, m, msg); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessages implements readMessages: under exclusive lock, filter
// by timestamp > since (if provided), flip read=true only on the returned
// subset, write back, and return the filtered messages.
func (e *Engine) ReadMessages(team, agentID string, since *time.Time) ([]types.Message, error) {
	var out []types.Message
	_, err := storage.LockedUpsert(
		e.paths.InboxLock(team, agentID),
		e.paths.InboxFile(team, agentID),
		func() *types.Inbox { return emptyInbox(agentID) },
		func(ib *types.Inbox) error {
			out = nil
			for i := range ib.Messages {
				if since != nil && !ib.Messages[i].Timestamp.After(*since) {
					continue
				}
				ib.Messages[i].Read = true
				out = append(out, ib.Messages[i])
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PollInbox implements pollInbox: sleep 500ms between checks for up
// to timeoutMs, returning as soon as readMessages yields a non-empty
// result, or [] on timeout.
func (e *Engine) PollInbox(team, agentID string, timeoutMs int, since *time.Time) ([]types.Message, error) {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		if _, err := os.Stat(e.paths.InboxFile(team, agentID)); err == nil {
			msgs, err := e.ReadMessages(team, agentID, since)
			if err != nil && !coreerr.Is(err, coreerr.NotFound) {
				return nil, err
			}
			if len(msgs) > 0 {
				return msgs, nil
			}
		}
		if time.Now().Add(pollInterval).After(deadline) {
			return []types.Message{}, nil
		}
		time.Sleep(pollInterval)
	}
}

// RequestShutdown implements requestShutdown. A non-member agentID
// is rejected (coreerr.Validation) rather than silently added to
// shutdownApprovals, since approvals are only meaningful against the
// current member set that shouldShutdown compares against.
func (e *Engine) RequestShutdown(team, agentID string) error {
	var leaderID string
	err := storage.WithLockFile(e.paths.TeamLock(team), func() error {
		cfg, err := e.readTeam(team)
		if err != nil {
			return err
		}
		if !cfg.IsMember(agentID) {
			return coreerr.Validationf("agent %q is not a member of team %q", agentID, team)
		}
		leaderID = cfg.LeaderAgentID
		if !containsString(cfg.ShutdownApprovals, agentID) {
			cfg.ShutdownApprovals = append(cfg.ShutdownApprovals, agentID)
		}
		return storage.WriteAtomic(e.paths.TeamConfig(team), cfg)
	})
	if err != nil {
		return err
	}
	if agentID != leaderID {
		return e.SendTyped(team, leaderID, "shutdown requested by "+agentID, types.MessageShutdownRequest, agentID)
	}
	return nil
}

// ApproveShutdown implements approveShutdown: records the approver,
// then notifies every other already-requesting agent that their shutdown
// is approved.
func (e *Engine) ApproveShutdown(team, agentID string) error {
	var toNotify []string
	err := storage.WithLockFile(e.paths.TeamLock(team), func() error {
		cfg, err := e.readTeam(team)
		if err != nil {
			return err
		}
		for _, id := range cfg.ShutdownApprovals {
			if id != agentID {
				toNotify = append(toNotify, id)
			}
		}
		if !containsString(cfg.ShutdownApprovals, agentID) {
			cfg.ShutdownApprovals = append(cfg.ShutdownApprovals, agentID)
		}
		return storage.WriteAtomic(e.paths.TeamConfig(team), cfg)
	})
	if err != nil {
		return err
	}
	for _, id := range toNotify {
		if err := e.SendTyped(team, id, "shutdown approved by "+agentID, types.MessageShutdownApproved, agentID); err != nil {
			return err
		}
	}
	return nil
}

// ShouldShutdown implements shouldShutdown: true once the leader is
// in approvals, or every member is.
func (e *Engine) ShouldShutdown(team string) (bool, error) {
	var result bool
	err := storage.WithLockFile(e.paths.TeamLock(team), func() error {
		cfg, err := e.readTeam(team)
		if err != nil {
			return err
		}
		if containsString(cfg.ShutdownApprovals, cfg.LeaderAgentID) {
			result = true
			return nil
		}
		for _, m := range cfg.MemberIDs() {
			if !containsString(cfg.ShutdownApprovals, m) {
				result = false
				return nil
			}
		}
		result = len(cfg.Members) > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return result, nil
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
