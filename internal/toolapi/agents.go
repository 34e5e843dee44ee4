package toolapi

import (
	"context"

	"github.com/opencode-teams/core/internal/agents"
	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/types"
)

type SpawnAgentRequest struct {
	Team          string
	Name          string
	Role          types.AgentRole
	Model         string
	ProviderID    string
	Cwd           string
	InitialPrompt string
	CallerAgentID string
}

type SpawnAgentResponse struct {
	Agent *types.AgentState `json:"agent"`
}

// SpawnAgent implements spawn-agent.
func (s *Server) SpawnAgent(ctx context.Context, req SpawnAgentRequest) (*SpawnAgentResponse, error) {
	if allowed, err := s.coord.Roles.Allow(req.Team, req.CallerAgentID, "spawn-agent"); err != nil {
		return nil, err
	} else if !allowed {
		return nil, coreerr.Permissionf("agent %q may not spawn-agent", req.CallerAgentID)
	}

	agent, err := s.coord.Agents.SpawnAgent(ctx, agents.SpawnAgentInput{
		Team:          req.Team,
		Name:          req.Name,
		Role:          req.Role,
		Model:         req.Model,
		ProviderID:    req.ProviderID,
		Cwd:           req.Cwd,
		InitialPrompt: req.InitialPrompt,
	})
	if err != nil {
		return nil, err
	}
	return &SpawnAgentResponse{Agent: agent}, nil
}

type KillAgentRequest struct {
	Team     string
	CallerID string
	TargetID string
	Force    bool
}

type KillAgentResponse struct {
	Killed bool `json:"killed"`
}

// KillAgent implements kill-agent.
func (s *Server) KillAgent(ctx context.Context, req KillAgentRequest) (*KillAgentResponse, error) {
	if allowed, err := s.coord.Roles.Allow(req.Team, req.CallerID, "kill-agent"); err != nil {
		return nil, err
	} else if !allowed {
		return nil, coreerr.Permissionf("agent %q may not kill-agent", req.CallerID)
	}
	if err := s.coord.Agents.KillAgent(ctx, req.Team, req.CallerID, req.TargetID, req.Force); err != nil {
		return nil, err
	}
	return &KillAgentResponse{Killed: true}, nil
}

type HeartbeatRequest struct {
	AgentID string
	Status  *types.AgentStatus
}

type HeartbeatResponse struct {
	Agent *types.AgentState `json:"agent"`
}

// Heartbeat implements heartbeat; idempotent on repeated calls with the
// same status.
func (s *Server) Heartbeat(req HeartbeatRequest) (*HeartbeatResponse, error) {
	agent, err := s.coord.Agents.Heartbeat(req.AgentID, req.Status)
	if err != nil {
		return nil, err
	}
	return &HeartbeatResponse{Agent: agent}, nil
}

type GetAgentStatusRequest struct {
	AgentID string
}

type GetAgentStatusResponse struct {
	Agent *types.AgentState `json:"agent"`
}

// GetAgentStatus implements get-agent-status.
func (s *Server) GetAgentStatus(req GetAgentStatusRequest) (*GetAgentStatusResponse, error) {
	agent, err := s.coord.Agents.GetAgentStatus(req.AgentID)
	if err != nil {
		return nil, err
	}
	return &GetAgentStatusResponse{Agent: agent}, nil
}
