// Package httpapi is an additional, optional, read-only HTTP binding over
// a *coordinator.Coordinator: a small REST surface for browsing team/task/
// agent state plus a WebSocket feed of the shared event bus. It is not the
// tool surface (internal/toolapi owns that) and not the CLI; it exists so
// a dashboard can watch the core the way internal/server
// lets its own dashboard watch captain/agent state.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/opencode-teams/core/internal/coordinator"
	"github.com/opencode-teams/core/internal/types"
)

// Server is the dashboard HTTP server handle.
type Server struct {
	coord      *coordinator.Coordinator
	router     *mux.Router
	hub        *Hub
	httpServer *http.Server
	startTime  time.Time
}

// NewServer builds a Server over coord and registers every route.
func NewServer(coord *coordinator.Coordinator) *Server {
	s := &Server{
		coord:     coord,
		router:    mux.NewRouter(),
		hub:       newHub(),
		startTime: time.Now(),
	}
	s.registerRoutes()
	s.subscribeEventFeed()
	return s
}

func (s *Server) registerRoutes() {
	api := s.router.PathPrefix("/").Subrouter()
	api.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	api.HandleFunc("/teams", s.handleListTeams).Methods(http.MethodGet)
	api.HandleFunc("/teams/{name}", s.handleGetTeam).Methods(http.MethodGet)
	api.HandleFunc("/teams/{name}/tasks", s.handleGetTeamTasks).Methods(http.MethodGet)
	api.HandleFunc("/teams/{name}/agents", s.handleGetTeamAgents).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleWebSocket)
}

// subscribeEventFeed mirrors every bus event onto the WebSocket hub, the
// same role the teacher dashboard hub's BroadcastState/BroadcastAlert/
// BroadcastActivity play against its own event sources — generalized here
// to the entire
// event taxonomy rather than a few hand-picked message kinds, since the
// dashboard is read-only and has no reason to filter.
func (s *Server) subscribeEventFeed() {
	for _, t := range eventTaxonomy {
		s.coord.Bus.Subscribe(t, func(evt types.Event) {
			s.hub.broadcastEvent(evt)
		})
	}
}

// Router exposes the underlying mux.Router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start runs the HTTP server on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	go s.hub.run()
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and WebSocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.shutdown()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
