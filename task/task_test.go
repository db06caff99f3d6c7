package task_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/agentcore/task"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, task.CanTransition(task.StatusPending, task.StatusInProgress))
	assert.True(t, task.CanTransition(task.StatusInProgress, task.StatusCompleted))
	assert.True(t, task.CanTransition(task.StatusBlocked, task.StatusPending))
	assert.True(t, task.CanTransition(task.StatusCompleted, task.StatusCancelled))
	assert.False(t, task.CanTransition(task.StatusCompleted, task.StatusInProgress))
	assert.False(t, task.CanTransition(task.StatusPending, task.StatusCompleted))
}

func TestNormalizeSetsDefaults(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tk := task.Task{ID: "t1", Content: "do a thing"}
	tk.Normalize(now)
	assert.Equal(t, task.StatusPending, tk.Status)
	assert.Equal(t, task.PriorityMedium, tk.Priority)
	assert.Equal(t, now, tk.CreatedAt)
	assert.Equal(t, now, tk.UpdatedAt)
}

func TestTopoSortOrdersByDependency(t *testing.T) {
	tasks := []task.Task{
		{ID: "c", Dependencies: []string{"b"}},
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
	}
	sorted, err := task.TopoSort(tasks)
	require.NoError(t, err)
	ids := make([]string, len(sorted))
	for i, t := range sorted {
		ids[i] = t.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	tasks := []task.Task{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	_, err := task.TopoSort(tasks)
	assert.Error(t, err)
}

func TestTopoSortDetectsUnknownDependency(t *testing.T) {
	tasks := []task.Task{{ID: "a", Dependencies: []string{"missing"}}}
	_, err := task.TopoSort(tasks)
	assert.Error(t, err)
}

func TestDependenciesSatisfied(t *testing.T) {
	byID := map[string]*task.Task{
		"a": {ID: "a", Status: task.StatusCompleted},
		"b": {ID: "b", Status: task.StatusPending},
	}
	assert.True(t, task.Task{Dependencies: []string{"a"}}.DependenciesSatisfied(byID))
	assert.False(t, task.Task{Dependencies: []string{"b"}}.DependenciesSatisfied(byID))
	assert.False(t, task.Task{Dependencies: []string{"missing"}}.DependenciesSatisfied(byID))
}
