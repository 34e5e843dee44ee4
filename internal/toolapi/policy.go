package toolapi

type CheckPermissionRequest struct {
	Team    string
	AgentID string
	Tool    string
}

type CheckPermissionResponse struct {
	Allowed bool `json:"allowed"`
}

// CheckPermission implements check-permission, the capability
// check every sensitive operation consults at its entry point.
func (s *Server) CheckPermission(req CheckPermissionRequest) (*CheckPermissionResponse, error) {
	allowed, err := s.coord.Roles.Allow(req.Team, req.AgentID, req.Tool)
	if err != nil {
		return nil, err
	}
	return &CheckPermissionResponse{Allowed: allowed}, nil
}
