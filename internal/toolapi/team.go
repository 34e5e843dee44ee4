package toolapi

import (
	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/teams"
	"github.com/opencode-teams/core/internal/types"
)

// SpawnTeamRequest is spawn-team's input. If TemplateName is
// set, the named template's topology/roles/workflow are used as defaults
// and Topology/Roles/Workflow below override them field by field.
// CallerAgentID is empty for a host-initiated call (always allowed, per
// internal/roles' bypass) or the id of an already-registered agent
// spawning a sibling team.
type SpawnTeamRequest struct {
	Name          string
	Description   string
	Topology      types.Topology
	LeaderAgentID string
	LeaderName    string
	LeaderType    string
	Roles         []types.RoleDefinition
	Workflow      *types.WorkflowConfig
	TemplateName  string
	CallerAgentID string
}

type SpawnTeamResponse struct {
	Team *types.Team `json:"team"`
}

// SpawnTeam implements spawn-team. When a template is named, it's resolved
// first (three-tier lookup in internal/templates) and supplies defaults
// the request can still override, since internal/teams.CreateTeam itself
// only persists whatever input it's given and has no template awareness.
func (s *Server) SpawnTeam(req SpawnTeamRequest) (*SpawnTeamResponse, error) {
	if allowed, err := s.coord.Roles.Allow(req.Name, req.CallerAgentID, "spawn-team"); err != nil {
		return nil, err
	} else if !allowed {
		return nil, coreerr.Permissionf("agent %q may not spawn-team", req.CallerAgentID)
	}

	input := teams.CreateTeamInput{
		Name:           req.Name,
		Description:    req.Description,
		Topology:       req.Topology,
		LeaderAgentID:  req.LeaderAgentID,
		LeaderName:     req.LeaderName,
		LeaderType:     req.LeaderType,
		Roles:          req.Roles,
		Workflow:       req.Workflow,
		TemplateSource: req.TemplateName,
	}

	if req.TemplateName != "" {
		tmpl, err := s.coord.Templates.Get(req.TemplateName)
		if err != nil {
			return nil, err
		}
		if input.Topology == "" {
			input.Topology = tmpl.Topology
		}
		if len(input.Roles) == 0 {
			input.Roles = tmpl.Roles
		}
		if input.Workflow == nil {
			input.Workflow = tmpl.WorkflowConfig
		}
		if input.Description == "" {
			input.Description = tmpl.Description
		}
	}

	team, err := s.coord.Teams.CreateTeam(input)
	if err != nil {
		return nil, err
	}
	return &SpawnTeamResponse{Team: team}, nil
}

type DiscoverTeamsRequest struct{}

type DiscoverTeamsResponse struct {
	Teams []*types.Team `json:"teams"`
}

// DiscoverTeams implements discover-teams.
func (s *Server) DiscoverTeams(_ DiscoverTeamsRequest) (*DiscoverTeamsResponse, error) {
	list, err := s.coord.Teams.DiscoverTeams()
	if err != nil {
		return nil, err
	}
	return &DiscoverTeamsResponse{Teams: list}, nil
}

type JoinTeamRequest struct {
	Team        string
	AgentID     string
	DisplayName string
	MemberType  string
}

type JoinTeamResponse struct {
	Team *types.Team `json:"team"`
}

// JoinTeam implements join-team.
func (s *Server) JoinTeam(req JoinTeamRequest) (*JoinTeamResponse, error) {
	team, err := s.coord.Teams.JoinTeam(req.Team, req.AgentID, req.DisplayName, req.MemberType)
	if err != nil {
		return nil, err
	}
	return &JoinTeamResponse{Team: team}, nil
}

type GetTeamInfoRequest struct {
	Team string
}

type GetTeamInfoResponse struct {
	Team *types.Team `json:"team"`
}

// GetTeamInfo implements get-team-info. DispatchLog is stored oldest-first
// (cheap eviction off the front once over cap) but returned newest-first,
// since callers read it as a history feed.
func (s *Server) GetTeamInfo(req GetTeamInfoRequest) (*GetTeamInfoResponse, error) {
	team, err := s.coord.Teams.GetTeamInfo(req.Team)
	if err != nil {
		return nil, err
	}
	team.DispatchLog = newestFirst(team.DispatchLog)
	return &GetTeamInfoResponse{Team: team}, nil
}

// newestFirst returns a reversed copy of log, leaving the original slice
// (and the Team it came from) untouched for any other in-process reader.
func newestFirst(log []types.DispatchLogEntry) []types.DispatchLogEntry {
	out := make([]types.DispatchLogEntry, len(log))
	for i, entry := range log {
		out[len(log)-1-i] = entry
	}
	return out
}

type DeleteTeamRequest struct {
	Team          string
	Force         bool
	CallerAgentID string
}

type DeleteTeamResponse struct {
	Deleted bool `json:"deleted"`
}

// DeleteTeam implements delete-team: rejected while any member, the
// leader included, still has a non-terminated agent, unless Force is set.
func (s *Server) DeleteTeam(req DeleteTeamRequest) (*DeleteTeamResponse, error) {
	if allowed, err := s.coord.Roles.Allow(req.Team, req.CallerAgentID, "delete-team"); err != nil {
		return nil, err
	} else if !allowed {
		return nil, coreerr.Permissionf("agent %q may not delete-team", req.CallerAgentID)
	}
	if err := s.coord.Teams.DeleteTeam(req.Team, req.Force); err != nil {
		return nil, err
	}
	return &DeleteTeamResponse{Deleted: true}, nil
}
