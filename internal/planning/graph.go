package planning

import (
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
)

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

// topoSort orders task ids so that every task appears after all of its
// dependencies. A dependency cycle is fatal and reported as a
// CircularDependencyError naming a task on the cycle; it is never
// silently broken.
func topoSort(tasks []models.Task) ([]string, error) {
	byID := make(map[string]*models.Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	state := make(map[string]visitState, len(tasks))
	order := make([]string, 0, len(tasks))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			return &contracts.CircularDependencyError{TaskID: id}
		}
		state[id] = visiting

		task, ok := byID[id]
		if ok {
			for _, dep := range task.DependsOn {
				// Dependencies on unknown ids are ignored rather than
				// fatal; they carry no ordering information.
				if _, known := byID[dep]; !known {
					continue
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		state[id] = visited
		order = append(order, id)
		return nil
	}

	for i := range tasks {
		if err := visit(tasks[i].ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// recomputePriorities runs the backward critical-path pass over a sorted
// plan: a task's effective priority is its base priority plus the highest
// effective priority among its dependencies, memoized per task id. A task
// therefore never ranks below the path cost of anything it depends on.
func recomputePriorities(plan *models.ExecutionPlan) {
	byID := make(map[string]*models.Task, len(plan.Tasks))
	for i := range plan.Tasks {
		byID[plan.Tasks[i].ID] = &plan.Tasks[i]
	}

	memo := make(map[string]int, len(plan.Tasks))
	var effective func(id string) int
	effective = func(id string) int {
		if p, ok := memo[id]; ok {
			return p
		}
		task, ok := byID[id]
		if !ok {
			return 0
		}
		p := task.Priority
		maxDep := 0
		for _, dep := range task.DependsOn {
			if dp := effective(dep); dp > maxDep {
				maxDep = dp
			}
		}
		p += maxDep
		memo[id] = p
		return p
	}

	for i := range plan.Tasks {
		plan.Tasks[i].Priority = effective(plan.Tasks[i].ID)
	}
}
