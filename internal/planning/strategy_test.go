package planning

import (
	"testing"

	"github.com/loomworks/loom/pkg/models"
)

func TestInferStrategy(t *testing.T) {
	tests := []struct {
		name  string
		tasks []models.Task
		want  models.ExecutionStrategy
	}{
		{
			"independent tasks run in parallel",
			[]models.Task{task("a"), task("b"), task("c"), task("d")},
			models.StrategyParallel,
		},
		{
			"fully chained tasks run sequentially",
			[]models.Task{task("a"), task("b", "a"), task("c", "b"), task("d", "c")},
			models.StrategySequential,
		},
		{
			"mixed graph is hybrid",
			[]models.Task{task("a"), task("b"), task("c", "a"), task("d")},
			models.StrategyHybrid,
		},
		{
			"empty plan defaults sequential",
			nil,
			models.StrategySequential,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferStrategy(tt.tasks); got != tt.want {
				t.Errorf("inferStrategy = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAssessRiskAggregatesByFrequency(t *testing.T) {
	goals := []models.Goal{
		{RiskFactors: []string{"schema migration", "third-party API"}},
		{RiskFactors: []string{"schema migration"}},
		{RiskFactors: []string{"schema migration", "performance regression"}},
	}

	risk := assessRisk(goals, nil, 0.1)
	if len(risk.MajorRisks) != 3 {
		t.Fatalf("len(MajorRisks) = %d, want 3", len(risk.MajorRisks))
	}
	if risk.MajorRisks[0] != "schema migration" {
		t.Errorf("top risk = %q, want most frequent", risk.MajorRisks[0])
	}
	if risk.Overall != models.RiskMedium {
		t.Errorf("overall = %q, want medium with 3 major risks", risk.Overall)
	}
}

func TestAssessRiskCapsMajorRisksAtFive(t *testing.T) {
	goals := []models.Goal{{RiskFactors: []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7"}}}

	risk := assessRisk(goals, nil, 0)
	if got := len(risk.MajorRisks); got != 5 {
		t.Errorf("len(MajorRisks) = %d, want 5", got)
	}
	if risk.Overall != models.RiskHigh {
		t.Errorf("overall = %q, want high", risk.Overall)
	}
}

func TestAssessRiskLowForCheapSimplePlans(t *testing.T) {
	risk := assessRisk([]models.Goal{{}}, []models.Task{task("a")}, 0.05)
	if risk.Overall != models.RiskLow {
		t.Errorf("overall = %q, want low", risk.Overall)
	}
	if len(risk.Mitigations) != 0 {
		t.Errorf("mitigations on a low-risk plan: %v", risk.Mitigations)
	}
}
