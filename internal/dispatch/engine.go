// Package dispatch implements the dispatch engine: on every
// bus event, collect the target team's enabled dispatch rules matching
// that event type, evaluate each rule's condition, execute matching
// actions, and append a capped DispatchLogEntry trail — plus the
// task.completed workflow monitor.
package dispatch

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/events"
	"github.com/opencode-teams/core/internal/messaging"
	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/tasks"
	"github.com/opencode-teams/core/internal/types"
)

// maxChainDepth caps action-triggered re-entrant dispatch chains.
const maxChainDepth = 3

// EnginePseudoAgentID is the "fromAgent" the dispatch engine uses when a
// notify_leader action sends a message.
const EnginePseudoAgentID = "dispatch-engine"

// AgentProvider resolves the idle-agent set an assign_task action claims
// against; internal/agents.Engine implements this.
type AgentProvider interface {
	IdleAgentIDs(team string) ([]string, error)
}

// Notifier fires a best-effort desktop notification alongside a
// notify_leader action's message delivery; internal/notify implements
// this. A nil Notifier (the default) means notify_leader only delivers
// the inbox message, which is the entire spec-required behavior — the
// desktop toast is pure enrichment.
type Notifier interface {
	Notify(title, message string) error
}

// AuditRecorder mirrors dispatch-log entries past the capped in-config
// trail; internal/auditlog implements this. A nil AuditRecorder (the
// default) means the capped config.json trail is the only dispatch
// history kept, which already satisfies every spec-required invariant.
type AuditRecorder interface {
	RecordDispatch(team string, entry types.DispatchLogEntry) error
}

// Engine is the dispatch engine handle.
type Engine struct {
	paths    *storage.Paths
	taskEng  *tasks.Engine
	msgEng   *messaging.Engine
	agents   AgentProvider
	bus      *events.Bus
	notifier Notifier
	audit    AuditRecorder
	unsubs   []func()
}

// NewEngine constructs a dispatch Engine and subscribes it to the full
// event taxonomy on bus.
func NewEngine(paths *storage.Paths, taskEng *tasks.Engine, msgEng *messaging.Engine, agents AgentProvider, bus *events.Bus) *Engine {
	e := &Engine{paths: paths, taskEng: taskEng, msgEng: msgEng, agents: agents, bus: bus}
	for _, t := range taxonomy {
		e.unsubs = append(e.unsubs, bus.Subscribe(t, e.handleEvent))
	}
	e.unsubs = append(e.unsubs, bus.Subscribe(types.EventTaskCompleted, e.handleWorkflowMonitor))
	return e
}

var taxonomy = []types.EventType{
	types.EventTaskCreated,
	types.EventTaskCompleted,
	types.EventTaskUnblocked,
	types.EventAgentIdle,
	types.EventAgentTerminated,
	types.EventTeamCreated,
	types.EventSessionIdle,
}

// SetNotifier attaches a best-effort desktop Notifier. Called after
// NewEngine since the notifier (internal/notify) has no reason to exist
// before the engine it enriches does.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetAuditRecorder attaches an AuditRecorder mirror. Called after
// NewEngine for the same reason as SetNotifier.
func (e *Engine) SetAuditRecorder(a AuditRecorder) {
	e.audit = a
}

// Stop unsubscribes the engine from the bus.
func (e *Engine) Stop() {
	for _, u := range e.unsubs {
		u()
	}
}

func (e *Engine) readTeam(team string) (*types.Team, error) {
	t := &types.Team{}
	if err := storage.ReadValidated(e.paths.TeamConfig(team), t); err != nil {
		return nil, err
	}
	return t, nil
}

// handleEvent is the bus.Handler entry point; it runs at chain depth 0.
func (e *Engine) handleEvent(event types.Event) {
	e.dispatch(event, 0)
}

func (e *Engine) dispatch(event types.Event, depth int) {
	if depth >= maxChainDepth {
		log.Printf("[DISPATCH] WARNING: recursion guard tripped for team=%s event=%s, further chained dispatch dropped", event.TeamName, event.Type)
		return
	}
	if event.TeamName == "" {
		return
	}

	cfg, err := e.readTeam(event.TeamName)
	if err != nil {
		if !coreerr.Is(err, coreerr.NotFound) {
			log.Printf("[DISPATCH] WARNING: failed to read team %q for dispatch: %v", event.TeamName, err)
		}
		return
	}

	var matched []types.DispatchRule
	for _, r := range cfg.DispatchRules {
		if r.EventType == event.Type && r.Enabled {
			matched = append(matched, r)
		}
	}
	sortRulesByPriority(matched)

	for _, rule := range matched {
		ok, condErr := e.evaluateCondition(rule.Condition, event)
		entry := types.DispatchLogEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			RuleID:    rule.ID,
			EventType: event.Type,
		}
		if condErr != nil {
			entry.Success = false
			entry.Details = fmt.Sprintf("condition evaluation failed: %v", condErr)
			e.appendLog(event.TeamName, entry)
			continue
		}
		if !ok {
			continue
		}

		success, details := e.executeAction(event.TeamName, rule.Action, event, depth)
		entry.Success = success
		entry.Details = details
		e.appendLog(event.TeamName, entry)
	}
}

func sortRulesByPriority(rules []types.DispatchRule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j].Priority < rules[j-1].Priority; j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

func (e *Engine) appendLog(team string, entry types.DispatchLogEntry) {
	_, err := storage.LockedUpdate(
		e.paths.TeamLock(team),
		e.paths.TeamConfig(team),
		func() *types.Team { return &types.Team{} },
		func(cfg *types.Team) error {
			cfg.AppendDispatchLog(entry)
			return nil
		},
	)
	if err != nil {
		log.Printf("[DISPATCH] WARNING: failed to append dispatch log entry for team %q: %v", team, err)
	}
	if e.audit != nil {
		if err := e.audit.RecordDispatch(team, entry); err != nil {
			log.Printf("[DISPATCH] WARNING: failed to mirror dispatch log entry to audit store: %v", err)
		}
	}
}

// evaluateCondition implements condition semantics.
func (e *Engine) evaluateCondition(cond *types.Condition, event types.Event) (bool, error) {
	if cond == nil {
		return true, nil
	}
	switch cond.Kind {
	case types.ConditionSimpleMatch:
		actual := lookupDotted(event.Payload, cond.Field)
		return compare(actual, cond.Value, cond.Operator)
	case types.ConditionResourceCount:
		count, err := e.resourceCount(event.TeamName, cond.Resource)
		if err != nil {
			return false, err
		}
		return compare(count, cond.Value, cond.Operator)
	default:
		return false, fmt.Errorf("unknown condition kind %q", cond.Kind)
	}
}

func (e *Engine) resourceCount(team string, resource types.Resource) (int, error) {
	switch resource {
	case types.ResourceUnblockedTasks:
		return e.taskEng.CountUnblockedPending(team)
	case types.ResourceActiveAgents:
		cfg, err := e.readTeam(team)
		if err != nil {
			return 0, err
		}
		n := len(cfg.Members) - 1
		if n < 0 {
			n = 0
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unknown resource %q", resource)
	}
}

// lookupDotted resolves a dotted field path into a nested payload map.
func lookupDotted(payload map[string]interface{}, field string) interface{} {
	if payload == nil || field == "" {
		return nil
	}
	cur := interface{}(payload)
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// compare implements comparator semantics: numeric if value is
// numeric, otherwise lexicographic.
func compare(actual, expected interface{}, op types.Comparator) (bool, error) {
	af, aIsNum := toFloat(actual)
	ef, eIsNum := toFloat(expected)

	if aIsNum && eIsNum {
		switch op {
		case types.OpEq:
			return af == ef, nil
		case types.OpNeq:
			return af != ef, nil
		case types.OpGt:
			return af > ef, nil
		case types.OpLt:
			return af < ef, nil
		case types.OpGte:
			return af >= ef, nil
		case types.OpLte:
			return af <= ef, nil
		}
		return false, fmt.Errorf("unknown comparator %q", op)
	}

	as := fmt.Sprintf("%v", actual)
	es := fmt.Sprintf("%v", expected)
	switch op {
	case types.OpEq:
		return as == es, nil
	case types.OpNeq:
		return as != es, nil
	case types.OpGt:
		return as > es, nil
	case types.OpLt:
		return as < es, nil
	case types.OpGte:
		return as >= es, nil
	case types.OpLte:
		return as <= es, nil
	}
	return false, fmt.Errorf("unknown comparator %q", op)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// executeAction implements action variants. depth is the chain depth of
// the event that triggered this action. It is not carried onto events
// emitted while the action runs: no action here emits a bus event, and an
// event emitted from inside one would enter through handleEvent at depth
// 0, so the maxChainDepth check in dispatch is never reached by a chain.
func (e *Engine) executeAction(team string, action types.Action, event types.Event, depth int) (bool, string) {
	switch action.Kind {
	case types.ActionAssignTask:
		return e.actionAssignTask(team, depth)
	case types.ActionNotifyLeader:
		return e.actionNotifyLeader(team, action.Message)
	case types.ActionLog:
		log.Printf("[DISPATCH] event=%s team=%s payload=%v message=%s", event.Type, team, event.Payload, action.Message)
		return true, "logged to host log"
	default:
		return false, fmt.Sprintf("unknown action kind %q", action.Kind)
	}
}

func (e *Engine) actionAssignTask(team string, depth int) (bool, string) {
	idle, err := e.agents.IdleAgentIDs(team)
	if err != nil {
		return false, fmt.Sprintf("failed to list idle agents: %v", err)
	}
	if len(idle) == 0 {
		return true, "no-op: no idle agents available"
	}

	task, err := e.taskEng.HighestPriorityUnblocked(team)
	if err != nil {
		return false, fmt.Sprintf("failed to find unblocked task: %v", err)
	}
	if task == nil {
		return true, "no-op: no pending unblocked task available"
	}

	agentID := idle[0]
	cfg, err := e.readTeam(team)
	if err != nil {
		return false, fmt.Sprintf("failed to read team: %v", err)
	}
	claimed, err := e.taskEng.ClaimTask(team, task.ID, agentID, cfg.Topology, cfg.LeaderAgentID, nil)
	if err != nil {
		return false, fmt.Sprintf("claimTask(%s, %s) failed: %v", task.ID, agentID, err)
	}
	return true, fmt.Sprintf("assigned task %q to agent %q", claimed.ID, agentID)
}

func (e *Engine) actionNotifyLeader(team, message string) (bool, string) {
	cfg, err := e.readTeam(team)
	if err != nil {
		return false, fmt.Sprintf("failed to read team: %v", err)
	}
	if cfg.LeaderAgentID == "" {
		return true, "no-op: team has no leader"
	}
	if err := e.msgEng.SendTyped(team, cfg.LeaderAgentID, message, types.MessagePlain, EnginePseudoAgentID); err != nil {
		return false, fmt.Sprintf("failed to notify leader: %v", err)
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(fmt.Sprintf("%s needs you", team), message); err != nil {
			log.Printf("[DISPATCH] desktop notify failed (non-fatal): %v", err)
		}
	}
	return true, fmt.Sprintf("notified leader %q", cfg.LeaderAgentID)
}

// handleWorkflowMonitor is the workflow-monitor subscriber on
// task.completed.
func (e *Engine) handleWorkflowMonitor(event types.Event) {
	team := event.TeamName
	if team == "" {
		return
	}
	cfg, err := e.readTeam(team)
	if err != nil {
		return
	}
	wf := cfg.Workflow
	if wf == nil || !wf.Enabled {
		return
	}
	cooldown := time.Duration(wf.CooldownSeconds) * time.Second
	if !wf.LastSuggestionAt.IsZero() && time.Since(wf.LastSuggestionAt) < cooldown {
		return
	}

	unblocked, err := e.taskEng.CountUnblockedPending(team)
	if err != nil {
		log.Printf("[DISPATCH] WARNING: workflow monitor failed to count unblocked tasks for %q: %v", team, err)
		return
	}
	activeAgents, err := e.resourceCount(team, types.ResourceActiveAgents)
	if err != nil {
		log.Printf("[DISPATCH] WARNING: workflow monitor failed to count active agents for %q: %v", team, err)
		return
	}
	idleWorkers, err := e.agents.IdleAgentIDs(team)
	if err != nil {
		idleWorkers = nil
	}
	activeWorkers := activeAgents - len(idleWorkers)
	if activeWorkers < 0 {
		activeWorkers = 0
	}

	var ratio float64
	if activeAgents > 0 {
		ratio = float64(activeWorkers) / float64(activeAgents)
	}

	if unblocked <= wf.UnblockedTasksThreshold || ratio >= wf.MinActiveWorkerRatio {
		return
	}

	msg := fmt.Sprintf("%d unblocked tasks are waiting with only %d/%d workers active; consider spawning more workers", unblocked, activeWorkers, activeAgents)
	if err := e.msgEng.SendTyped(team, cfg.LeaderAgentID, msg, types.MessageTaskAssignment, EnginePseudoAgentID); err != nil {
		log.Printf("[DISPATCH] WARNING: workflow monitor failed to notify leader for %q: %v", team, err)
		return
	}

	_, err = storage.LockedUpdate(
		e.paths.TeamLock(team),
		e.paths.TeamConfig(team),
		func() *types.Team { return &types.Team{} },
		func(c *types.Team) error {
			if c.Workflow == nil {
				c.Workflow = &types.WorkflowConfig{}
			}
			*c.Workflow = *wf
			c.Workflow.LastSuggestionAt = time.Now()
			return nil
		},
	)
	if err != nil {
		log.Printf("[DISPATCH] WARNING: failed to persist lastSuggestionAt for %q: %v", team, err)
	}
}
