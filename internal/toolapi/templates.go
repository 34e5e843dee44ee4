package toolapi

import (
	"github.com/opencode-teams/core/internal/types"
)

type SaveTemplateRequest struct {
	Team        string
	Name        string
	Description string
}

type SaveTemplateResponse struct {
	Template *types.TeamTemplate `json:"template"`
}

// SaveTemplate implements save-template: snapshots an existing team's
// topology/roles/workflow into a reusable template.
func (s *Server) SaveTemplate(req SaveTemplateRequest) (*SaveTemplateResponse, error) {
	team, err := s.coord.Teams.GetTeamInfo(req.Team)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.coord.Templates.SaveFromTeam(team, req.Name, req.Description)
	if err != nil {
		return nil, err
	}
	return &SaveTemplateResponse{Template: tmpl}, nil
}

type ListTemplatesRequest struct{}

type ListTemplatesResponse struct {
	Templates []*types.TeamTemplate `json:"templates"`
}

// ListTemplates implements list-templates.
func (s *Server) ListTemplates(_ ListTemplatesRequest) (*ListTemplatesResponse, error) {
	list, err := s.coord.Templates.List()
	if err != nil {
		return nil, err
	}
	return &ListTemplatesResponse{Templates: list}, nil
}

type DeleteTemplateRequest struct {
	Name string
}

type DeleteTemplateResponse struct {
	Deleted bool `json:"deleted"`
}

// DeleteTemplate implements delete-template.
func (s *Server) DeleteTemplate(req DeleteTemplateRequest) (*DeleteTemplateResponse, error) {
	if err := s.coord.Templates.Delete(req.Name); err != nil {
		return nil, err
	}
	return &DeleteTemplateResponse{Deleted: true}, nil
}
