package types

import (
	"fmt"
	"time"
)

// AgentRole is an agent's functional role within a team.
type AgentRole string

const (
	RoleLeader      AgentRole = "leader"
	RoleWorker      AgentRole = "worker"
	RoleReviewer    AgentRole = "reviewer"
	RoleTaskManager AgentRole = "task-manager"
)

// AgentStatus is the agent lifecycle state.
type AgentStatus string

const (
	AgentSpawning     AgentStatus = "spawning"
	AgentActive       AgentStatus = "active"
	AgentIdle         AgentStatus = "idle"
	AgentInactive     AgentStatus = "inactive"
	AgentShuttingDown AgentStatus = "shutting_down"
	AgentTerminated   AgentStatus = "terminated"
)

// agentTransitions encodes the status machine in AgentState entry.
var agentTransitions = map[AgentStatus]map[AgentStatus]bool{
	AgentSpawning: {
		AgentActive:     true,
		AgentTerminated: true,
	},
	AgentActive: {
		AgentIdle:         true,
		AgentShuttingDown: true,
		AgentInactive:     true,
		AgentTerminated:   true,
	},
	AgentIdle: {
		AgentActive:       true,
		AgentShuttingDown: true,
		AgentInactive:     true,
		AgentTerminated:   true,
	},
	AgentShuttingDown: {
		AgentTerminated: true,
	},
	AgentInactive: {
		AgentTerminated: true,
	},
	AgentTerminated: {},
}

// CanTransitionAgent reports whether an agent status transition is legal.
func CanTransitionAgent(from, to AgentStatus) bool {
	if from == to {
		return true
	}
	if to == AgentTerminated {
		return from != AgentTerminated
	}
	return agentTransitions[from][to]
}

// AgentState is the persisted agent document at agents/<agent-id>.json.
type AgentState struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	TeamName           string      `json:"teamName"`
	Role               AgentRole   `json:"role"`
	Model              string      `json:"model"`
	ProviderID         string      `json:"providerId,omitempty"`
	SessionID          string      `json:"sessionId"`
	PaneID             string      `json:"paneId,omitempty"`
	ServerPort         int         `json:"serverPort"`
	Cwd                string      `json:"cwd"`
	InitialPrompt      string      `json:"initialPrompt,omitempty"`
	Color              string      `json:"color"`
	Status             AgentStatus `json:"status"`
	IsActive           bool        `json:"isActive"`
	CreatedAt          time.Time   `json:"createdAt"`
	HeartbeatTs        time.Time   `json:"heartbeatTs"`
	UpdatedAt          *time.Time  `json:"updatedAt,omitempty"`
	TerminatedAt       *time.Time  `json:"terminatedAt,omitempty"`
	ConsecutiveMisses  int         `json:"consecutiveMisses"`
	LastError          string      `json:"lastError,omitempty"`
	SessionRotationCount int       `json:"sessionRotationCount"`
}

func (a *AgentState) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	switch a.Role {
	case RoleLeader, RoleWorker, RoleReviewer, RoleTaskManager:
	default:
		return fmt.Errorf("invalid agent role %q", a.Role)
	}
	switch a.Status {
	case AgentSpawning, AgentActive, AgentIdle, AgentInactive, AgentShuttingDown, AgentTerminated:
	default:
		return fmt.Errorf("invalid agent status %q", a.Status)
	}
	if a.ConsecutiveMisses < 0 {
		return fmt.Errorf("consecutiveMisses must be nonnegative")
	}
	return nil
}

// RefreshIsActive recomputes IsActive from Status.
func (a *AgentState) RefreshIsActive() {
	a.IsActive = a.Status == AgentActive || a.Status == AgentIdle
}
