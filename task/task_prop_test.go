package task_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/flowstack/agentcore/task"
)

const chainDAGSize = 10

// A chain-shaped DAG of chainDAGSize tasks where task i may depend on any
// task with a smaller index, chosen by a generated coin flip per pair:
// this always has at least one valid topological order, so TopoSort must
// never error on it and must always place a task after everything it
// depends on (P1).
func genChainDAG() gopter.Gen {
	return gen.SliceOfN(chainDAGSize*chainDAGSize, gen.Float64Range(0, 1)).Map(func(coinFlips []float64) []task.Task {
		tasks := make([]task.Task, chainDAGSize)
		for i := 0; i < chainDAGSize; i++ {
			id := fmt.Sprintf("t%d", i)
			var deps []string
			for j := 0; j < i; j++ {
				if coinFlips[i*chainDAGSize+j] > 0.5 {
					deps = append(deps, fmt.Sprintf("t%d", j))
				}
			}
			tasks[i] = task.Task{ID: id, Content: id, Dependencies: deps}
		}
		return tasks
	})
}

func TestTopoSortRespectsDependencyOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every task follows all of its dependencies", prop.ForAll(
		func(tasks []task.Task) bool {
			ordered, err := task.TopoSort(tasks)
			if err != nil {
				return false
			}
			position := make(map[string]int, len(ordered))
			for i, t := range ordered {
				position[t.ID] = i
			}
			for _, t := range ordered {
				for _, dep := range t.Dependencies {
					if position[dep] >= position[t.ID] {
						return false
					}
				}
			}
			return len(ordered) == len(tasks)
		},
		genChainDAG(),
	))

	properties.TestingRun(t)
}
