package scheduler

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// validateGraph runs a topological sort over the dependency edges of the
// given tasks plus the candidate and rejects cycles. Dependencies pointing at
// tasks outside the set (cross-queue or already finished) are included as
// plain nodes; they cannot contribute a cycle on their own but edges through
// them can.
func validateGraph(tasks []*Task, candidate *Task) error {
	all := make([]*Task, 0, len(tasks)+1)
	all = append(all, tasks...)
	if candidate != nil {
		all = append(all, candidate)
	}

	var edges []toposort.Edge
	for _, t := range all {
		deps := t.Dependencies()
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID()})
			continue
		}
		for _, dep := range deps {
			edges = append(edges, toposort.Edge{dep.ID(), t.ID()})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %v", ErrCycle, err)
	}
	return nil
}
