// Package toolapi binds the external tool surface onto
// *coordinator.Coordinator through Server: one request/response struct
// pair per operation, plus a Registry that exposes the same operations as
// named JSON-in/JSON-out handlers the way internal/mcp
// ToolRegistry exposes its own tool set.
package toolapi

import (
	"github.com/opencode-teams/core/internal/coordinator"
)

// Server is the tool-call entry point. Every method corresponds to one
// tool-surface operation; callers (an MCP binding, an HTTP handler, a
// test) construct one Server per Coordinator and call its methods
// directly, or go through NewRegistry for name-dispatched JSON calls.
type Server struct {
	coord *coordinator.Coordinator
}

// NewServer wraps coord in a Server.
func NewServer(coord *coordinator.Coordinator) *Server {
	return &Server{coord: coord}
}
