package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/tasks"
)

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// respondError maps a coreerr category onto an HTTP status the way the
// teacher's respondError centralizes status/body formatting, generalized
// from one hardcoded status per call site to a category lookup.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case coreerr.Is(err, coreerr.NotFound):
		status = http.StatusNotFound
	case coreerr.Is(err, coreerr.Conflict):
		status = http.StatusConflict
	case coreerr.Is(err, coreerr.Validation):
		status = http.StatusBadRequest
	case coreerr.Is(err, coreerr.Permission):
		status = http.StatusForbidden
	case coreerr.Is(err, coreerr.PreconditionFailed):
		status = http.StatusPreconditionFailed
	case coreerr.Is(err, coreerr.Unavailable):
		status = http.StatusServiceUnavailable
	case coreerr.Is(err, coreerr.Corrupted):
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).String(),
		"clients": s.hub.clientCount(),
	})
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	list, err := s.coord.Teams.DiscoverTeams()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, list)
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	team, err := s.coord.Teams.GetTeamInfo(name)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, team)
}

func (s *Server) handleGetTeamTasks(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	list, err := s.coord.Tasks.GetTasks(name, tasks.TaskFilter{})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, list)
}

func (s *Server) handleGetTeamAgents(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	team, err := s.coord.Teams.GetTeamInfo(name)
	if err != nil {
		s.respondError(w, err)
		return
	}
	agents := make([]interface{}, 0, len(team.Members))
	for _, m := range team.Members {
		state, err := s.coord.Agents.GetAgentStatus(m.AgentID)
		if err != nil {
			continue
		}
		agents = append(agents, state)
	}
	s.respondJSON(w, agents)
}
