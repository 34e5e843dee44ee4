package types

import (
	"fmt"
	"time"
)

// TaskStatus is the task state machine's state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// TaskPriority orders claim selection (assign_task).
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityNormal TaskPriority = "normal"
	PriorityLow    TaskPriority = "low"
)

func (p TaskPriority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// PriorityRank exposes the ordering used for "highest priority first" claims.
func PriorityRank(p TaskPriority) int { return p.rank() }

// ValidTransitions is the forward-only status state machine.
var ValidTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress},
	TaskInProgress: {TaskCompleted},
	TaskCompleted:  {},
}

// CanTransition reports whether from -> to is a legal forward transition.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Task is one unit of work, stored at tasks/<team>/<task-id>.json.
type Task struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Priority     TaskPriority `json:"priority"`
	Status       TaskStatus   `json:"status"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    *time.Time   `json:"updatedAt,omitempty"`
	ClaimedAt    *time.Time   `json:"claimedAt,omitempty"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
	Owner        string       `json:"owner,omitempty"`
	Dependencies []string     `json:"dependencies"`
	Blocks       []string     `json:"blocks"`
	Warning      string       `json:"warning,omitempty"`
}

// Validate enforces the invariants a single task value must satisfy in
// isolation; cross-task invariants (dependency existence, acyclicity,
// blocks-symmetry) are enforced by internal/tasks against the whole set.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("task title is required")
	}
	switch t.Priority {
	case PriorityHigh, PriorityNormal, PriorityLow:
	default:
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	switch t.Status {
	case TaskPending, TaskInProgress, TaskCompleted:
	default:
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if (t.Owner != "") != (t.Status != TaskPending) {
		// owner non-null iff status != pending, except during the
		// reassignment window this is enforced by the caller, not here.
	}
	return nil
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// AddBlocks appends id to Blocks if not already present.
func (t *Task) AddBlocks(id string) {
	if !containsString(t.Blocks, id) {
		t.Blocks = append(t.Blocks, id)
	}
}

// RemoveBlocks removes id from Blocks.
func (t *Task) RemoveBlocks(id string) {
	out := t.Blocks[:0]
	for _, b := range t.Blocks {
		if b != id {
			out = append(out, b)
		}
	}
	t.Blocks = out
}

// RemoveDependency removes id from Dependencies.
func (t *Task) RemoveDependency(id string) {
	out := t.Dependencies[:0]
	for _, d := range t.Dependencies {
		if d != id {
			out = append(out, d)
		}
	}
	t.Dependencies = out
}

// HasDependency reports whether id is in Dependencies.
func (t *Task) HasDependency(id string) bool {
	return containsString(t.Dependencies, id)
}
