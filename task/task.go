// Package task implements the Task (Todo) data model of spec §3: a unit of
// work produced by the Planning Agent and executed by the Sub-Agent
// Manager. Status/Priority follow the teacher's string-enum-with-Parse
// convention (ground: runtime/agent/tools/enums.go).
package task

import (
	"fmt"
	"strings"
	"time"
)

// Priority ranks a Task relative to its siblings.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority normalizes s to a Priority, defaulting to PriorityMedium
// for unrecognized input.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(PriorityHigh):
		return PriorityHigh
	case string(PriorityLow):
		return PriorityLow
	case string(PriorityMedium), "":
		return PriorityMedium
	default:
		return PriorityMedium
	}
}

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Status is a Task's lifecycle state (spec §3 T3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusBlocked, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates the legal Status graph (spec §3 T3): pending →
// in_progress → {completed,failed}; any → cancelled; blocked ↔ pending.
var transitions = map[Status]map[Status]bool{
	StatusPending:    {StatusInProgress: true, StatusBlocked: true, StatusCancelled: true},
	StatusInProgress: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusBlocked:    {StatusPending: true, StatusCancelled: true},
	StatusCompleted:  {},
	StatusFailed:     {StatusCancelled: true},
	StatusCancelled:  {},
}

// CanTransition reports whether moving from 'from' to 'to' is legal under T3.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return true
	}
	next, ok := transitions[from]
	return ok && next[to]
}

// Result mirrors spec §3's SubAgentResult; it is stored on a completed or
// failed Task. Package subagent produces values of this shape, but Task
// holds its own copy to avoid a subagent→task import cycle.
type Result struct {
	Success         bool
	Result          string
	Explanation     string
	ToolsUsed       []string
	MemoryAccessed  int
	Recommendations []string
	NextSteps       string
	Issues          string
	ExecutionTime   time.Duration
	SubAgent        string
	Degraded        bool
	Error           string
}

// Task is the unit of work a Plan decomposes a request into (spec §3).
type Task struct {
	ID                string
	Content           string
	Priority          Priority
	Status            Status
	AssignedSubAgent  string
	RequiredTools     []string
	Dependencies      []string
	SuccessCriteria   string
	EstimatedDuration string
	Result            *Result
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Normalize sets defaults required before a freshly parsed Task enters a
// Plan: Status becomes pending and timestamps are stamped to now (spec
// §4.3 step 4).
func (t *Task) Normalize(now time.Time) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	t.CreatedAt = now
	t.UpdatedAt = now
}

// DependenciesSatisfied reports whether every dependency id in t.Dependencies
// names a completed task in byID (spec §3 T2).
func (t Task) DependenciesSatisfied(byID map[string]*Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := byID[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// TopoSort returns tasks ordered so every task follows its dependencies,
// or an error if the dependency graph contains a cycle or references an
// unknown task id (spec §3 P1 "topologically sortable on dependencies").
func TopoSort(tasks []Task) ([]Task, error) {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(tasks))
	order := make([]Task, 0, len(tasks))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("task: dependency cycle detected at %q", id)
		}
		state[id] = visiting
		t, ok := byID[id]
		if !ok {
			return fmt.Errorf("task: unknown dependency %q", id)
		}
		for _, dep := range t.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = visited
		order = append(order, t)
		return nil
	}

	for _, t := range tasks {
		if err := visit(t.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}
