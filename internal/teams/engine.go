// Package teams implements team lifecycle management — spawn, discover,
// join, inspect, delete — built on top of internal/storage the way
// internal/tasks and internal/messaging are.
package teams

import (
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

// Emitter publishes domain events; internal/events.Bus satisfies this.
type Emitter interface {
	Emit(evt types.Event)
}

// Engine is the team lifecycle engine handle.
type Engine struct {
	paths   *storage.Paths
	emitter Emitter
}

// NewEngine constructs a team Engine. emitter may be nil for tests that
// don't care about event emission.
func NewEngine(paths *storage.Paths, emitter Emitter) *Engine {
	return &Engine{paths: paths, emitter: emitter}
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

// CreateTeamInput is spawnTeam's request shape.
type CreateTeamInput struct {
	Name           string
	Description    string
	Topology       types.Topology
	LeaderAgentID  string
	LeaderName     string
	LeaderType     string
	Roles          []types.RoleDefinition
	Workflow       *types.WorkflowConfig
	TemplateSource string
}

// CreateTeam creates a new team config. Fails with coreerr.Conflict if a
// team with this name already exists; spawn-team is not idempotent.
func (e *Engine) CreateTeam(input CreateTeamInput) (*types.Team, error) {
	path := e.paths.TeamConfig(input.Name)
	if _, err := os.Stat(path); err == nil {
		return nil, coreerr.Conflictf("team %q already exists", input.Name)
	}

	topology := input.Topology
	if topology == "" {
		topology = types.TopologyFlat
	}
	if input.LeaderType == "" {
		input.LeaderType = string(types.RoleLeader)
	}

	cfg := &types.Team{
		Name:           input.Name,
		CreatedAt:      time.Now(),
		LeaderAgentID:  input.LeaderAgentID,
		Topology:       topology,
		Description:    input.Description,
		Roles:          input.Roles,
		Workflow:       input.Workflow,
		TemplateSource: input.TemplateSource,
		Members: []types.Member{
			{
				AgentID:     input.LeaderAgentID,
				DisplayName: input.LeaderName,
				Type:        input.LeaderType,
				JoinedAt:    time.Now(),
			},
		},
	}
	if err := storage.WriteAtomic(path, cfg); err != nil {
		return nil, err
	}

	e.emit(types.Event{
		Type:     types.EventTeamCreated,
		TeamName: cfg.Name,
		Payload:  map[string]interface{}{"leaderAgentId": cfg.LeaderAgentID},
	})
	return cfg, nil
}

// DiscoverTeams lists every team's config, skipping unreadable files
// under a corruption-tolerance policy.
func (e *Engine) DiscoverTeams() ([]*types.Team, error) {
	entries, err := os.ReadDir(e.paths.TeamsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*types.Team
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		cfg := &types.Team{}
		if err := storage.ReadValidated(e.paths.TeamConfig(ent.Name()), cfg); err != nil {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// GetTeamInfo reads one team's config.
func (e *Engine) GetTeamInfo(team string) (*types.Team, error) {
	cfg := &types.Team{}
	if err := storage.ReadValidated(e.paths.TeamConfig(team), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// JoinTeam adds a new member to an existing team. Fails with
// coreerr.Conflict on a duplicate member id.
func (e *Engine) JoinTeam(team, agentID, displayName, memberType string) (*types.Team, error) {
	cfg, err := storage.LockedUpdate(
		e.paths.TeamLock(team),
		e.paths.TeamConfig(team),
		func() *types.Team { return &types.Team{} },
		func(c *types.Team) error {
			if c.IsMember(agentID) {
				return coreerr.Conflictf("agent %q is already a member of team %q", agentID, team)
			}
			c.Members = append(c.Members, types.Member{
				AgentID:     agentID,
				DisplayName: displayName,
				Type:        memberType,
				JoinedAt:    time.Now(),
			})
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// isAgentActive decides whether a member is "active" for delete-team
// purposes: its AgentState exists and has not reached a terminal status.
func isAgentActive(status types.AgentStatus) bool {
	return status != types.AgentTerminated && status != ""
}

// DeleteTeam removes a team's config and task directory. Delete is
// rejected with coreerr.PreconditionFailed if any member, the leader
// included, still has a non-terminated AgentState, unless force is true —
// an unconditional
// delete would otherwise orphan running subprocesses with no team config
// left to reassign or notify through.
func (e *Engine) DeleteTeam(team string, force bool) error {
	cfg, err := e.GetTeamInfo(team)
	if err != nil {
		return err
	}

	if !force {
		for _, m := range cfg.Members {
			agent := &types.AgentState{}
			if err := storage.ReadValidated(e.paths.AgentFile(m.AgentID), agent); err != nil {
				continue
			}
			if isAgentActive(agent.Status) {
				return coreerr.PreconditionFailedf(
					"team %q has active agent %q; terminate it first or pass force", team, m.AgentID,
				)
			}
		}
	}

	if err := os.RemoveAll(e.paths.TeamDir(team)); err != nil {
		return err
	}
	if err := os.RemoveAll(e.paths.TasksDir(team)); err != nil {
		return err
	}
	return nil
}
