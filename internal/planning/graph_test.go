package planning

import (
	"errors"
	"testing"

	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
)

func task(id string, deps ...string) models.Task {
	return models.Task{ID: id, DependsOn: deps, Priority: 1}
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestTopoSortRespectsDependencies(t *testing.T) {
	tasks := []models.Task{
		task("c", "b"),
		task("a"),
		task("b", "a"),
		task("d", "a"),
	}

	order, err := topoSort(tasks)
	if err != nil {
		t.Fatalf("topoSort: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("len(order) = %d, want 4", len(order))
	}
	for _, tk := range tasks {
		for _, dep := range tk.DependsOn {
			if indexOf(order, dep) > indexOf(order, tk.ID) {
				t.Errorf("dependency %s ordered after %s: %v", dep, tk.ID, order)
			}
		}
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	tasks := []models.Task{
		task("a", "c"),
		task("b", "a"),
		task("c", "b"),
	}

	_, err := topoSort(tasks)
	var cde *contracts.CircularDependencyError
	if !errors.As(err, &cde) {
		t.Fatalf("err = %v, want CircularDependencyError", err)
	}
}

func TestTopoSortIgnoresUnknownDependencies(t *testing.T) {
	tasks := []models.Task{task("a", "ghost"), task("b", "a")}

	order, err := topoSort(tasks)
	if err != nil {
		t.Fatalf("topoSort: %v", err)
	}
	if len(order) != 2 {
		t.Errorf("len(order) = %d, want 2", len(order))
	}
}

func TestRecomputePrioritiesCriticalPath(t *testing.T) {
	plan := &models.ExecutionPlan{Tasks: []models.Task{
		{ID: "a", Priority: 3},
		{ID: "b", Priority: 2, DependsOn: []string{"a"}},
		{ID: "c", Priority: 1, DependsOn: []string{"b"}},
		{ID: "d", Priority: 4},
	}}

	recomputePriorities(plan)

	want := map[string]int{"a": 3, "b": 5, "c": 6, "d": 4}
	for _, tk := range plan.Tasks {
		if tk.Priority != want[tk.ID] {
			t.Errorf("priority(%s) = %d, want %d", tk.ID, tk.Priority, want[tk.ID])
		}
	}
}

func TestRecomputePrioritiesNeverBelowBase(t *testing.T) {
	plan := &models.ExecutionPlan{Tasks: []models.Task{
		{ID: "a", Priority: 1},
		{ID: "b", Priority: 4, DependsOn: []string{"a"}},
	}}

	recomputePriorities(plan)

	for _, tk := range plan.Tasks {
		if tk.Priority < 1 {
			t.Errorf("priority(%s) = %d, below base", tk.ID, tk.Priority)
		}
	}
	if got := plan.Tasks[1].Priority; got != 5 {
		t.Errorf("priority(b) = %d, want 5", got)
	}
}
