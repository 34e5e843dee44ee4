package toolapi

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler processes one JSON-object tool call and returns a JSON-encodable
// result or a categorized error.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Registry is a name-dispatched view over Server's typed methods, grounded
// on internal/mcp.ToolRegistry: a name-to-handler map an MCP
// (or any other RPC-shaped) front end can call Execute against without
// needing to know the Go types behind each operation.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a Registry exposing every operation bound to srv.
func NewRegistry(srv *Server) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}

	r.register("spawn-team", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req SpawnTeamRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.SpawnTeam(req)
	})
	r.register("discover-teams", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req DiscoverTeamsRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.DiscoverTeams(req)
	})
	r.register("join-team", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req JoinTeamRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.JoinTeam(req)
	})
	r.register("get-team-info", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req GetTeamInfoRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.GetTeamInfo(req)
	})
	r.register("delete-team", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req DeleteTeamRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.DeleteTeam(req)
	})

	r.register("send-message", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req SendMessageRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.SendMessage(req)
	})
	r.register("broadcast-message", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req BroadcastMessageRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.BroadcastMessage(req)
	})
	r.register("read-messages", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req ReadMessagesRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.ReadMessages(req)
	})
	r.register("poll-inbox", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req PollInboxRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.PollInbox(req)
	})

	r.register("create-task", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req CreateTaskRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.CreateTask(req)
	})
	r.register("get-tasks", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req GetTasksRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.GetTasks(req)
	})
	r.register("claim-task", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req ClaimTaskRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.ClaimTask(req)
	})
	r.register("update-task", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req UpdateTaskRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.UpdateTask(req)
	})

	r.register("spawn-agent", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req SpawnAgentRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.SpawnAgent(ctx, req)
	})
	r.register("kill-agent", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req KillAgentRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.KillAgent(ctx, req)
	})
	r.register("heartbeat", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req HeartbeatRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.Heartbeat(req)
	})
	r.register("get-agent-status", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req GetAgentStatusRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.GetAgentStatus(req)
	})

	r.register("save-template", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req SaveTemplateRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.SaveTemplate(req)
	})
	r.register("list-templates", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req ListTemplatesRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.ListTemplates(req)
	})
	r.register("delete-template", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req DeleteTemplateRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.DeleteTemplate(req)
	})

	r.register("check-permission", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req CheckPermissionRequest
		if err := unmarshal(params, &req); err != nil {
			return nil, err
		}
		return srv.CheckPermission(req)
	})

	return r
}

func (r *Registry) register(name string, h Handler) {
	r.handlers[name] = h
}

// Names lists every registered operation, for a tools/list-style response.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Execute runs the named operation against params, matching
// ToolRegistry.Execute's shape.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (interface{}, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return h(ctx, params)
}

func unmarshal(params json.RawMessage, dst interface{}) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, dst)
}
