// Package types holds the persisted entity definitions for the coordination
// core. Every JSON-tagged struct carries a Validate method that
// internal/storage uses as the "schema" for readValidated/writeAtomic.
package types

import (
	"fmt"
	"regexp"
	"time"
)

// Topology controls who may claim tasks in a team.
type Topology string

const (
	TopologyFlat         Topology = "flat"
	TopologyHierarchical Topology = "hierarchical"
)

var teamNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// Member is an agent's standing membership in a team. Immutable once added.
type Member struct {
	AgentID     string    `json:"agentId"`
	DisplayName string    `json:"displayName"`
	Type        string    `json:"type"`
	JoinedAt    time.Time `json:"joinedAt"`
}

func (m Member) Validate() error {
	if m.AgentID == "" {
		return fmt.Errorf("member agentId is required")
	}
	return nil
}

// RoleDefinition is a named permission set for a role within a team.
type RoleDefinition struct {
	Name         string   `json:"name"`
	AllowedTools []string `json:"allowedTools,omitempty"`
	DeniedTools  []string `json:"deniedTools,omitempty"`
}

// WorkflowConfig drives the workflow monitor.
type WorkflowConfig struct {
	Enabled                bool          `json:"enabled"`
	UnblockedTasksThreshold int          `json:"unblockedTasksThreshold"`
	MinActiveWorkerRatio    float64      `json:"minActiveWorkerRatio"`
	CooldownSeconds         int          `json:"cooldownSeconds"`
	LastSuggestionAt        time.Time    `json:"lastSuggestionAt,omitempty"`
}

// Team is the root configuration document at teams/<team-name>/config.json.
type Team struct {
	Name             string           `json:"name"`
	CreatedAt        time.Time        `json:"createdAt"`
	LeaderAgentID    string           `json:"leaderAgentId"`
	Members          []Member         `json:"members"`
	Description      string           `json:"description,omitempty"`
	Topology         Topology         `json:"topology"`
	Roles            []RoleDefinition `json:"roles,omitempty"`
	Workflow         *WorkflowConfig  `json:"workflow,omitempty"`
	TemplateSource   string           `json:"templateSource,omitempty"`
	DispatchRules    []DispatchRule   `json:"dispatchRules,omitempty"`
	DispatchLog      []DispatchLogEntry `json:"dispatchLog,omitempty"`
	ShutdownApprovals []string        `json:"shutdownApprovals,omitempty"`
}

// MaxDispatchLog is the cap on DispatchLog entries per team.
const MaxDispatchLog = 500

// Validate enforces the Team invariants.
func (t *Team) Validate() error {
	if !teamNamePattern.MatchString(t.Name) {
		return fmt.Errorf("invalid team name %q", t.Name)
	}
	if t.Topology != TopologyFlat && t.Topology != TopologyHierarchical {
		return fmt.Errorf("invalid topology %q", t.Topology)
	}
	if t.LeaderAgentID == "" {
		return fmt.Errorf("team must have a leader")
	}
	seen := make(map[string]bool, len(t.Members))
	leaderIsMember := false
	for _, m := range t.Members {
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.AgentID] {
			return fmt.Errorf("duplicate member agentId %q", m.AgentID)
		}
		seen[m.AgentID] = true
		if m.AgentID == t.LeaderAgentID {
			leaderIsMember = true
		}
	}
	if !leaderIsMember {
		return fmt.Errorf("leader %q is not a member", t.LeaderAgentID)
	}
	if len(t.DispatchLog) > MaxDispatchLog {
		return fmt.Errorf("dispatch log exceeds cap of %d", MaxDispatchLog)
	}
	return nil
}

// IsMember reports whether agentID belongs to the team.
func (t *Team) IsMember(agentID string) bool {
	for _, m := range t.Members {
		if m.AgentID == agentID {
			return true
		}
	}
	return false
}

// MemberIDs returns every member agent id, leader included.
func (t *Team) MemberIDs() []string {
	ids := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		ids = append(ids, m.AgentID)
	}
	return ids
}

// AppendDispatchLog appends an entry, evicting the oldest once over cap.
func (t *Team) AppendDispatchLog(entry DispatchLogEntry) {
	t.DispatchLog = append(t.DispatchLog, entry)
	if len(t.DispatchLog) > MaxDispatchLog {
		t.DispatchLog = t.DispatchLog[len(t.DispatchLog)-MaxDispatchLog:]
	}
}
