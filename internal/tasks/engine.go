// Package tasks implements the task engine: creation, listing,
// update, deletion, claiming, and agent-death reassignment, with dependency
// cycle detection and cascade unblocking. Every mutating operation is taken
// under the team's task-dir lock via lockExclusive (internal/lockfile).
package tasks

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

// Emitter publishes domain events; internal/events.Bus satisfies this.
type Emitter interface {
	Emit(evt types.Event)
}

// Engine is the task engine handle.
type Engine struct {
	paths   *storage.Paths
	emitter Emitter
}

// NewEngine constructs a task Engine. emitter may be nil for tests that
// don't care about event emission.
func NewEngine(paths *storage.Paths, emitter Emitter) *Engine {
	return &Engine{paths: paths, emitter: emitter}
}

func (e *Engine) emit(evt types.Event) {
	if e.emitter == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	e.emitter.Emit(evt)
}

// CreateTaskInput is the caller-supplied shape for CreateTask.
type CreateTaskInput struct {
	Title        string
	Description  string
	Priority     types.TaskPriority
	Dependencies []string
}

// teamExists checks the team's config.json is present without taking a
// lock; createTask only needs to know the team exists.
func (e *Engine) teamExists(team string) bool {
	_, err := os.Stat(e.paths.TeamConfig(team))
	return err == nil
}

// readTaskFile reads one task file without a lock (used inside an already
// locked section, or for best-effort listing reads).
func (e *Engine) readTaskFile(team, id string) (*types.Task, error) {
	t := &types.Task{}
	if err := storage.ReadValidated(e.paths.TaskFile(team, id), t); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTask implements createTask.
func (e *Engine) CreateTask(team string, input CreateTaskInput) (*types.Task, error) {
	if !e.teamExists(team) {
		return nil, coreerr.NotFoundf("team %q does not exist", team)
	}
	if input.Priority == "" {
		input.Priority = types.PriorityNormal
	}

	var created *types.Task
	err := lockExclusive(e.paths.TasksLock(team), func() error {
		deps := append([]string{}, input.Dependencies...)
		for _, d := range deps {
			if _, err := e.readTaskFile(team, d); err != nil {
				return coreerr.NotFoundf("dependency %q does not exist", d)
			}
		}

		id := uuid.NewString()
		if err := e.detectCycle(team, id, deps); err != nil {
			return err
		}

		t := &types.Task{
			ID:           id,
			Title:        input.Title,
			Description:  input.Description,
			Priority:     input.Priority,
			Status:       types.TaskPending,
			CreatedAt:    time.Now(),
			Dependencies: deps,
			Blocks:       []string{},
		}
		if err := storage.WriteAtomic(e.paths.TaskFile(team, id), t); err != nil {
			return err
		}

		for _, d := range deps {
			dep, err := e.readTaskFile(team, d)
			if err != nil {
				log.Printf("[TASKS] WARNING: failed to re-read dependency %q after create: %v", d, err)
				continue
			}
			dep.AddBlocks(id)
			if err := storage.WriteAtomic(e.paths.TaskFile(team, d), dep); err != nil {
				log.Printf("[TASKS] WARNING: failed to persist blocks update on %q: %v", d, err)
			}
		}

		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(types.Event{
		Type:     types.EventTaskCreated,
		TeamName: team,
		Payload:  map[string]interface{}{"taskId": created.ID},
	})
	return created, nil
}

// detectCycle walks an iterative BFS over deps as the initial queue,
// following each task's stored dependencies, and fails if the walk
// surfaces selfID.
func (e *Engine) detectCycle(team, selfID string, deps []string) error {
	visited := make(map[string]bool)
	queue := append([]string{}, deps...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == selfID {
			return coreerr.Conflictf("circular dependency detected involving %q", selfID)
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		t, err := e.readTaskFile(team, id)
		if err != nil {
			continue // best-effort: a missing dependency was already checked by the caller
		}
		queue = append(queue, t.Dependencies...)
	}
	return nil
}

// GetTask reads one task under a shared lock.
func (e *Engine) GetTask(team, id string) (*types.Task, error) {
	var t *types.Task
	err := lockShared(e.paths.TasksLock(team), func() error {
		var err error
		t, err = e.readTaskFile(team, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// TaskFilter filters GetTasks by exact-match fields.
type TaskFilter struct {
	Status types.TaskStatus
	Owner  string
}

// GetTasks lists a team's tasks, applying filters. Corrupt files are
// skipped and logged (the best-effort listing policy); insertion
// order is not guaranteed.
func (e *Engine) GetTasks(team string, filter TaskFilter) ([]*types.Task, error) {
	var out []*types.Task
	err := lockShared(e.paths.TasksLock(team), func() error {
		entries, err := os.ReadDir(e.paths.TasksDir(team))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
				continue
			}
			id := strings.TrimSuffix(ent.Name(), ".json")
			t, err := e.readTaskFile(team, id)
			if err != nil {
				log.Printf("[TASKS] WARNING: skipping unreadable task file %q: %v", ent.Name(), err)
				continue
			}
			if filter.Status != "" && t.Status != filter.Status {
				continue
			}
			if filter.Owner != "" && t.Owner != filter.Owner {
				continue
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// unblockedPending lists every pending task whose dependencies are all
// completed, sorted by priority then createdAt ascending. The
// assign-task selection order and the resource-count dispatch
// condition's unblocked-tasks measure share this same definition.
func (e *Engine) unblockedPending(team string) ([]*types.Task, error) {
	var out []*types.Task
	err := lockShared(e.paths.TasksLock(team), func() error {
		entries, err := os.ReadDir(e.paths.TasksDir(team))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
				continue
			}
			id := strings.TrimSuffix(ent.Name(), ".json")
			t, err := e.readTaskFile(team, id)
			if err != nil {
				continue
			}
			if t.Status != types.TaskPending {
				continue
			}
			allDepsCompleted := true
			for _, d := range t.Dependencies {
				dep, err := e.readTaskFile(team, d)
				if err != nil || dep.Status != types.TaskCompleted {
					allDepsCompleted = false
					break
				}
			}
			if allDepsCompleted {
				out = append(out, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := types.PriorityRank(out[i].Priority), types.PriorityRank(out[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CountUnblockedPending reports the resource-count dispatch condition's
// unblocked-tasks measure.
func (e *Engine) CountUnblockedPending(team string) (int, error) {
	tasks, err := e.unblockedPending(team)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// HighestPriorityUnblocked returns the single highest-priority
// pending-and-unblocked task (priority then createdAt ascending), or nil if
// none exists.
func (e *Engine) HighestPriorityUnblocked(team string) (*types.Task, error) {
	tasks, err := e.unblockedPending(team)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return tasks[0], nil
}

// TaskUpdate is the caller-supplied shape for UpdateTask; nil fields are
// left unchanged.
type TaskUpdate struct {
	Title        *string
	Description  *string
	Priority     *types.TaskPriority
	Status       *types.TaskStatus
	Dependencies *[]string
}

// UpdateTask implements updateTask, including dependency rebalancing,
// forward-only status transition enforcement, and cascade unblock on
// completion.
func (e *Engine) UpdateTask(team, id string, upd TaskUpdate) (*types.Task, error) {
	var updated *types.Task
	var justCompleted bool
	var unblockedIDs []string

	err := lockExclusive(e.paths.TasksLock(team), func() error {
		t, err := e.readTaskFile(team, id)
		if err != nil {
			return err
		}

		if upd.Dependencies != nil {
			newDeps := append([]string{}, (*upd.Dependencies)...)
			for _, d := range newDeps {
				if _, err := e.readTaskFile(team, d); err != nil {
					return coreerr.NotFoundf("dependency %q does not exist", d)
				}
			}
			if err := e.detectCycleExcluding(team, id, newDeps); err != nil {
				return err
			}

			oldSet := toSet(t.Dependencies)
			newSet := toSet(newDeps)
			for d := range oldSet {
				if !newSet[d] {
					if dep, err := e.readTaskFile(team, d); err == nil {
						dep.RemoveBlocks(id)
						storage.WriteAtomic(e.paths.TaskFile(team, d), dep)
					}
				}
			}
			for d := range newSet {
				if !oldSet[d] {
					if dep, err := e.readTaskFile(team, d); err == nil {
						dep.AddBlocks(id)
						storage.WriteAtomic(e.paths.TaskFile(team, d), dep)
					}
				}
			}
			t.Dependencies = newDeps
		}

		if upd.Title != nil {
			t.Title = *upd.Title
		}
		if upd.Description != nil {
			t.Description = *upd.Description
		}
		if upd.Priority != nil {
			t.Priority = *upd.Priority
		}
		if upd.Status != nil && *upd.Status != t.Status {
			if !types.CanTransition(t.Status, *upd.Status) {
				return coreerr.Conflictf("Invalid status transition: %s -> %s", t.Status, *upd.Status)
			}
			t.Status = *upd.Status
			if t.Status == types.TaskCompleted {
				now := time.Now()
				t.CompletedAt = &now
				justCompleted = true
			}
		}
		now := time.Now()
		t.UpdatedAt = &now

		if err := storage.WriteAtomic(e.paths.TaskFile(team, id), t); err != nil {
			return err
		}
		updated = t

		if justCompleted {
			unblockedIDs = e.cascadeUnblock(team, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if justCompleted {
		e.emit(types.Event{
			Type:     types.EventTaskCompleted,
			TeamName: team,
			Payload:  map[string]interface{}{"taskId": id},
		})
		for _, uid := range unblockedIDs {
			e.emit(types.Event{
				Type:     types.EventTaskUnblocked,
				TeamName: team,
				Payload:  map[string]interface{}{"taskId": uid},
			})
		}
	}
	return updated, nil
}

// cascadeUnblock removes completed.ID from every dependent task's
// Dependencies, and removes each such dependent from completed's own
// Blocks in turn, keeping the two lists exact inverses of each other.
// completed is mutated and rewritten in place so the caller's own copy
// (already returned to its caller) reflects the cleared Blocks too.
// Individual file failures are best-effort skipped so one bad file can't
// stall completion. Returns the ids of tasks that transitioned to zero
// pending dependencies while pending.
func (e *Engine) cascadeUnblock(team string, completed *types.Task) []string {
	var unblocked []string
	blocksChanged := false

	entries, err := os.ReadDir(e.paths.TasksDir(team))
	if err != nil {
		return unblocked
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(ent.Name(), ".json")
		if id == completed.ID {
			continue
		}
		t, err := e.readTaskFile(team, id)
		if err != nil {
			log.Printf("[TASKS] WARNING: skipping %q during cascade unblock: %v", id, err)
			continue
		}
		if !t.HasDependency(completed.ID) {
			continue
		}
		t.RemoveDependency(completed.ID)
		if len(t.Dependencies) == 0 {
			if strings.Contains(strings.ToLower(t.Warning), "dependencies are not met") {
				t.Warning = ""
			}
			if t.Status == types.TaskPending {
				unblocked = append(unblocked, id)
			}
		}
		if err := storage.WriteAtomic(e.paths.TaskFile(team, id), t); err != nil {
			log.Printf("[TASKS] WARNING: failed to persist cascade unblock on %q: %v", id, err)
			continue
		}
		completed.RemoveBlocks(id)
		blocksChanged = true
	}

	if blocksChanged {
		if err := storage.WriteAtomic(e.paths.TaskFile(team, completed.ID), completed); err != nil {
			log.Printf("[TASKS] WARNING: failed to persist cleared blocks on %q: %v", completed.ID, err)
		}
	}
	return unblocked
}

// DeleteTask implements deleteTask: forbidden while others depend on
// this task; otherwise removes this id from each of its own dependencies'
// Blocks, then deletes the file.
func (e *Engine) DeleteTask(team, id string) error {
	return lockExclusive(e.paths.TasksLock(team), func() error {
		t, err := e.readTaskFile(team, id)
		if err != nil {
			return err
		}

		entries, err := os.ReadDir(e.paths.TasksDir(team))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
				continue
			}
			otherID := strings.TrimSuffix(ent.Name(), ".json")
			if otherID == id {
				continue
			}
			other, err := e.readTaskFile(team, otherID)
			if err != nil {
				continue
			}
			if other.HasDependency(id) {
				return coreerr.Conflictf("cannot delete task %q: task %q depends on it", id, otherID)
			}
		}

		for _, d := range t.Dependencies {
			if dep, err := e.readTaskFile(team, d); err == nil {
				dep.RemoveBlocks(id)
				storage.WriteAtomic(e.paths.TaskFile(team, d), dep)
			}
		}

		return os.Remove(e.paths.TaskFile(team, id))
	})
}

// RoleLookup resolves a claiming agent's role for the hierarchical-topology
// permission check in ClaimTask. Returning ("", false) means "unknown" and
// is treated as not-leader/not-task-manager.
type RoleLookup func(agentID string) (types.AgentRole, bool)

// ClaimTask implements claimTask, including the hierarchical-topology
// leader/task-manager gate and soft-blocking warning attachment.
func (e *Engine) ClaimTask(team, id, agentID string, topology types.Topology, leaderID string, lookup RoleLookup) (*types.Task, error) {
	var claimed *types.Task
	err := lockExclusive(e.paths.TasksLock(team), func() error {
		t, err := e.readTaskFile(team, id)
		if err != nil {
			return err
		}
		if t.Status != types.TaskPending {
			return coreerr.Conflictf("task %q not available", id)
		}

		if topology == types.TopologyHierarchical {
			isLeader := agentID == leaderID
			isManager := false
			if lookup != nil {
				if role, ok := lookup(agentID); ok {
					isManager = role == types.RoleLeader || role == types.RoleTaskManager
				}
			}
			if !isLeader && !isManager {
				return coreerr.PreconditionFailedf("only the leader or a task-manager may claim tasks in a hierarchical team")
			}
		}

		var unmet []string
		for _, d := range t.Dependencies {
			dep, err := e.readTaskFile(team, d)
			if err != nil || dep.Status != types.TaskCompleted {
				unmet = append(unmet, d)
			}
		}

		now := time.Now()
		t.Status = types.TaskInProgress
		t.Owner = agentID
		t.ClaimedAt = &now
		t.UpdatedAt = &now
		if len(unmet) > 0 {
			t.Warning = fmt.Sprintf("dependencies are not met: %s", strings.Join(unmet, ", "))
		}

		if err := storage.WriteAtomic(e.paths.TaskFile(team, id), t); err != nil {
			return err
		}
		claimed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReassignAgentTasks implements reassignAgentTasks, the sole
// sanctioned backward transition, used by agent-death recovery.
func (e *Engine) ReassignAgentTasks(team, agentID string) ([]string, error) {
	var reassigned []string
	err := lockExclusive(e.paths.TasksLock(team), func() error {
		entries, err := os.ReadDir(e.paths.TasksDir(team))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
				continue
			}
			id := strings.TrimSuffix(ent.Name(), ".json")
			t, err := e.readTaskFile(team, id)
			if err != nil {
				continue
			}
			if t.Status != types.TaskInProgress || t.Owner != agentID {
				continue
			}
			t.Status = types.TaskPending
			t.Owner = ""
			t.ClaimedAt = nil
			t.Warning = fmt.Sprintf("Reassigned: previous owner %s terminated", agentID)
			now := time.Now()
			t.UpdatedAt = &now
			if err := storage.WriteAtomic(e.paths.TaskFile(team, id), t); err != nil {
				log.Printf("[TASKS] WARNING: failed to persist reassignment of %q: %v", id, err)
				continue
			}
			reassigned = append(reassigned, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reassigned, nil
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

// detectCycleExcluding is detectCycle for the update path: selfID's file
// already exists on disk so the BFS must treat it as the origin, not as a
// dependency target to read.
func (e *Engine) detectCycleExcluding(team, selfID string, deps []string) error {
	return e.detectCycle(team, selfID, deps)
}
