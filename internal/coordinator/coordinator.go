// Package coordinator wires every engine in the core into a single handle:
// the storage root, event bus, dispatch engine, every domain engine, and
// the heartbeat/session monitor. internal/toolapi's request handlers are
// methods on toolapi.Server, which wraps a *Coordinator.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/opencode-teams/core/internal/agents"
	"github.com/opencode-teams/core/internal/auditlog"
	"github.com/opencode-teams/core/internal/colorpool"
	"github.com/opencode-teams/core/internal/dispatch"
	"github.com/opencode-teams/core/internal/events"
	"github.com/opencode-teams/core/internal/messaging"
	"github.com/opencode-teams/core/internal/notify"
	"github.com/opencode-teams/core/internal/panectl"
	"github.com/opencode-teams/core/internal/roles"
	"github.com/opencode-teams/core/internal/serverctl"
	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/tasks"
	"github.com/opencode-teams/core/internal/teams"
	"github.com/opencode-teams/core/internal/templates"
	"github.com/opencode-teams/core/internal/types"
)

// Coordinator is the process-wide handle for one storage root. There is
// normally exactly one per running teamsd process, built once in main and
// threaded through the tool and HTTP layers rather than reached via
// package-level globals.
type Coordinator struct {
	Paths *storage.Paths
	Bus   *events.Bus

	Teams     *teams.Engine
	Tasks     *tasks.Engine
	Messages  *messaging.Engine
	Agents    *agents.Engine
	Dispatch  *dispatch.Engine
	Roles     *roles.Checker
	Templates *templates.Store

	// Audit is the queryable dispatch/event mirror (internal/auditlog),
	// nil unless Config.AuditLogPath was set.
	Audit *auditlog.Store

	colors *colorpool.Pool
	panes  *panectl.Controller
	server *serverctl.Engine

	cancelMonitors context.CancelFunc
}

// Config controls how New wires the tmux and template bindings; zero value
// is production-ready.
type Config struct {
	// TmuxBinary overrides the tmux executable name, normally left empty
	// to resolve "tmux" off PATH. Tests substitute a fake script here.
	TmuxBinary string
	// UserGlobalTemplatesDir overrides the fallback template directory,
	// normally left empty to use storage.UserGlobalTemplatesDir.
	UserGlobalTemplatesDir string
	// DesktopNotifications attaches internal/notify's best-effort toast
	// to the dispatch engine's notify_leader action. Off by default since
	// it only ever does anything on a Windows host with a leader pane in
	// the foreground; the inbox message notify_leader always sends is
	// unaffected either way.
	DesktopNotifications bool
	// DashboardURL, when DesktopNotifications is set, is the link a toast's
	// action button opens. Empty disables the action button, not the toast.
	DashboardURL string
	// AuditLogPath, when set, opens a queryable SQLite mirror of the
	// dispatch log and event stream at that path (internal/auditlog).
	// Empty leaves Coordinator.Audit nil and dispatch history limited to
	// each team's capped in-config trail.
	AuditLogPath string
}

// New constructs every engine against root and wires them into one
// Coordinator. It does not start any background goroutines; call Start for
// that once the caller is ready to run them. The only failure mode is
// opening the optional audit log database.
func New(root string, cfg Config) (*Coordinator, error) {
	paths := storage.NewPaths(root)
	bus := events.NewBus()

	tmuxBinary := cfg.TmuxBinary
	if tmuxBinary == "" {
		tmuxBinary = "tmux"
	}
	userGlobalDir := cfg.UserGlobalTemplatesDir
	if userGlobalDir == "" {
		userGlobalDir = storage.UserGlobalTemplatesDir
	}

	colors := colorpool.NewPool(paths)
	panes := panectl.NewController(tmuxBinary)
	server := serverctl.NewEngine(paths)

	teamsEng := teams.NewEngine(paths, bus)
	tasksEng := tasks.NewEngine(paths, bus)
	msgEng := messaging.NewEngine(paths)
	agentsEng := agents.NewEngine(paths, bus, colors, panes, server, tasksEng, msgEng)
	dispatchEng := dispatch.NewEngine(paths, tasksEng, msgEng, agentsEng, bus)
	rolesChecker := roles.NewChecker(paths)
	templateStore := templates.NewStore(paths, userGlobalDir)

	if cfg.DesktopNotifications {
		dispatchEng.SetNotifier(notify.NewDesktopNotifier("", cfg.DashboardURL))
	}

	var audit *auditlog.Store
	if cfg.AuditLogPath != "" {
		var err error
		audit, err = auditlog.Open(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("coordinator: opening audit log: %w", err)
		}
		dispatchEng.SetAuditRecorder(audit)
		for _, t := range eventTaxonomy {
			bus.Subscribe(t, func(evt types.Event) {
				if err := audit.RecordEvent(evt); err != nil {
					log.Printf("[COORDINATOR] WARNING: failed to mirror event to audit store: %v", err)
				}
			})
		}
	}

	return &Coordinator{
		Paths:     paths,
		Bus:       bus,
		Teams:     teamsEng,
		Tasks:     tasksEng,
		Messages:  msgEng,
		Agents:    agentsEng,
		Dispatch:  dispatchEng,
		Roles:     rolesChecker,
		Templates: templateStore,
		Audit:     audit,
		colors:    colors,
		panes:     panes,
		server:    server,
	}, nil
}

// eventTaxonomy is every event type the audit mirror records; kept in
// lockstep with dispatch's own taxonomy since both walk the same set.
var eventTaxonomy = []types.EventType{
	types.EventTaskCreated,
	types.EventTaskCompleted,
	types.EventTaskUnblocked,
	types.EventAgentIdle,
	types.EventAgentTerminated,
	types.EventTeamCreated,
	types.EventSessionIdle,
}

// Start launches the background stale-agent sweep. Session-level SSE
// monitoring is started per project server on demand (WatchProjectSessions),
// since it needs a *types.ServerInfo that only exists once an agent has
// spawned a server for that project.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelMonitors = cancel
	go c.Agents.StartStaleSweep(ctx)
}

// Stop cancels every background goroutine started by Start. It does not
// unwind the dispatch engine's bus subscriptions; call Dispatch.Stop
// separately if the Coordinator itself is being torn down rather than just
// its monitors.
func (c *Coordinator) Stop() {
	if c.cancelMonitors != nil {
		c.cancelMonitors()
	}
	if c.Audit != nil {
		if err := c.Audit.Close(); err != nil {
			log.Printf("[COORDINATOR] WARNING: failed to close audit store: %v", err)
		}
	}
}

// WatchProjectSessions starts the SSE-driven passive heartbeat monitor for
// one project's backing server. Safe to call once per project; callers
// typically invoke it right after the first SpawnAgent for a given cwd.
func (c *Coordinator) WatchProjectSessions(ctx context.Context, absProjectPath string) error {
	abs, err := filepath.Abs(absProjectPath)
	if err != nil {
		return err
	}
	hash := types.ProjectHash(abs)
	info := &types.ServerInfo{}
	if err := storage.ReadValidated(c.Paths.ServerInfoFile(hash), info); err != nil {
		return err
	}
	go c.Agents.StartSessionMonitor(ctx, info)
	return nil
}
