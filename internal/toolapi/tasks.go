package toolapi

import (
	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/tasks"
	"github.com/opencode-teams/core/internal/types"
)

type CreateTaskRequest struct {
	Team         string
	Title        string
	Description  string
	Priority     types.TaskPriority
	Dependencies []string
}

type CreateTaskResponse struct {
	Task *types.Task `json:"task"`
}

// CreateTask implements create-task.
func (s *Server) CreateTask(req CreateTaskRequest) (*CreateTaskResponse, error) {
	task, err := s.coord.Tasks.CreateTask(req.Team, tasks.CreateTaskInput{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     req.Priority,
		Dependencies: req.Dependencies,
	})
	if err != nil {
		return nil, err
	}
	return &CreateTaskResponse{Task: task}, nil
}

type GetTasksRequest struct {
	Team   string
	Status types.TaskStatus
	Owner  string
}

type GetTasksResponse struct {
	Tasks []*types.Task `json:"tasks"`
}

// GetTasks implements get-tasks.
func (s *Server) GetTasks(req GetTasksRequest) (*GetTasksResponse, error) {
	list, err := s.coord.Tasks.GetTasks(req.Team, tasks.TaskFilter{Status: req.Status, Owner: req.Owner})
	if err != nil {
		return nil, err
	}
	return &GetTasksResponse{Tasks: list}, nil
}

type ClaimTaskRequest struct {
	Team    string
	TaskID  string
	AgentID string
}

type ClaimTaskResponse struct {
	Task *types.Task `json:"task"`
}

// ClaimTask implements claim-task: resolves the team's topology, leader,
// and the claiming agent's role so internal/tasks.ClaimTask can apply
// the hierarchical-topology leader/task-manager gate.
func (s *Server) ClaimTask(req ClaimTaskRequest) (*ClaimTaskResponse, error) {
	if allowed, err := s.coord.Roles.Allow(req.Team, req.AgentID, "claim-task"); err != nil {
		return nil, err
	} else if !allowed {
		return nil, coreerr.Permissionf("agent %q may not claim-task", req.AgentID)
	}

	team, err := s.coord.Teams.GetTeamInfo(req.Team)
	if err != nil {
		return nil, err
	}

	lookup := func(agentID string) (types.AgentRole, bool) {
		agent, err := s.coord.Agents.GetAgentStatus(agentID)
		if err != nil {
			return "", false
		}
		return agent.Role, true
	}

	task, err := s.coord.Tasks.ClaimTask(req.Team, req.TaskID, req.AgentID, team.Topology, team.LeaderAgentID, lookup)
	if err != nil {
		return nil, err
	}
	return &ClaimTaskResponse{Task: task}, nil
}

type UpdateTaskRequest struct {
	Team         string
	TaskID       string
	Title        *string
	Description  *string
	Priority     *types.TaskPriority
	Status       *types.TaskStatus
	Dependencies *[]string
}

type UpdateTaskResponse struct {
	Task *types.Task `json:"task"`
}

// UpdateTask implements update-task.
func (s *Server) UpdateTask(req UpdateTaskRequest) (*UpdateTaskResponse, error) {
	if req.TaskID == "" {
		return nil, coreerr.Validationf("taskId is required")
	}
	task, err := s.coord.Tasks.UpdateTask(req.Team, req.TaskID, tasks.TaskUpdate{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     req.Priority,
		Status:       req.Status,
		Dependencies: req.Dependencies,
	})
	if err != nil {
		return nil, err
	}
	return &UpdateTaskResponse{Task: task}, nil
}
