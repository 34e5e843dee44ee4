// Package roles implements the capability check consulted at the entry of
// sensitive operations (spawn-team, spawn-agent, kill-agent, claim-task,
// delete-team, ...).
package roles

import (
	"os"

	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

// defaultRoleMap is the built-in permission set consulted when a team
// defines no role with a matching name ("Default map").
var defaultRoleMap = map[types.AgentRole]types.RoleDefinition{
	types.RoleLeader: {
		Name:        string(types.RoleLeader),
		DeniedTools: []string{"claim-task"},
	},
	types.RoleWorker: {
		Name: string(types.RoleWorker),
		DeniedTools: []string{
			"spawn-team", "delete-team", "spawn-agent", "kill-agent",
		},
	},
	types.RoleReviewer: {
		Name: string(types.RoleReviewer),
		AllowedTools: []string{
			"update-task", "get-tasks", "send-message", "broadcast-message",
			"read-messages", "poll-inbox",
		},
	},
	types.RoleTaskManager: {
		Name: string(types.RoleTaskManager),
		DeniedTools: []string{
			"spawn-team", "delete-team", "spawn-agent", "kill-agent",
		},
	},
}

// Checker evaluates permission checks against a storage root.
type Checker struct {
	paths *storage.Paths
}

// NewChecker constructs a Checker rooted at paths.
func NewChecker(paths *storage.Paths) *Checker {
	return &Checker{paths: paths}
}

// Allow reports whether agentID may invoke tool in team, per lookup
// path. An empty agentID means the operation was host-initiated (no
// OPENCODE_AGENT_ID in scope) and is always allowed.
func (c *Checker) Allow(team, agentID, tool string) (bool, error) {
	if agentID == "" {
		return true, nil
	}

	role, err := c.resolveRole(agentID)
	if err != nil {
		return false, err
	}

	def, err := c.resolveRoleDefinition(team, role)
	if err != nil {
		return false, err
	}

	return evaluate(def, tool), nil
}

func (c *Checker) resolveRole(agentID string) (types.AgentRole, error) {
	agent := &types.AgentState{}
	if err := storage.ReadValidated(c.paths.AgentFile(agentID), agent); err != nil {
		return types.RoleWorker, nil
	}
	return agent.Role, nil
}

func (c *Checker) resolveRoleDefinition(team string, role types.AgentRole) (types.RoleDefinition, error) {
	cfg := &types.Team{}
	if err := storage.ReadValidated(c.paths.TeamConfig(team), cfg); err == nil {
		for _, r := range cfg.Roles {
			if r.Name == string(role) {
				return r, nil
			}
		}
	}
	if def, ok := defaultRoleMap[role]; ok {
		return def, nil
	}
	return defaultRoleMap[types.RoleWorker], nil
}

// evaluate applies deny-then-allow rule: deny wins outright; a
// non-empty allow list is a whitelist; an empty allow list with no
// matching deny is an implicit allow.
func evaluate(def types.RoleDefinition, tool string) bool {
	for _, denied := range def.DeniedTools {
		if denied == tool {
			return false
		}
	}
	if len(def.AllowedTools) == 0 {
		return true
	}
	for _, allowed := range def.AllowedTools {
		if allowed == tool {
			return true
		}
	}
	return false
}

// AgentIDFromEnv reads OPENCODE_AGENT_ID, the scope-presence signal used by
// step 1 of lookup path.
func AgentIDFromEnv() string {
	return os.Getenv("OPENCODE_AGENT_ID")
}
