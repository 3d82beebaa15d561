package planning

import (
	"sort"

	"github.com/loomworks/loom/pkg/models"
)

const (
	parallelThreshold   = 0.3
	sequentialThreshold = 0.8

	maxMajorRisks = 5

	highTokenTask = int64(3000)
)

// inferStrategy classifies the plan by its mean dependency count per
// task: sparse graphs can run in parallel, dense ones are effectively
// sequential, everything in between is hybrid.
func inferStrategy(tasks []models.Task) models.ExecutionStrategy {
	if len(tasks) == 0 {
		return models.StrategySequential
	}
	total := 0
	for _, t := range tasks {
		total += len(t.DependsOn)
	}
	mean := float64(total) / float64(len(tasks))
	switch {
	case mean < parallelThreshold:
		return models.StrategyParallel
	case mean > sequentialThreshold:
		return models.StrategySequential
	default:
		return models.StrategyHybrid
	}
}

// assessRisk aggregates the goals' declared risk factors by frequency and
// grades the plan overall on heavy-task count, total cost, and how many
// major risks surfaced.
func assessRisk(goals []models.Goal, tasks []models.Task, totalCost float64) models.RiskAssessment {
	freq := map[string]int{}
	var order []string
	for _, g := range goals {
		for _, r := range g.RiskFactors {
			if freq[r] == 0 {
				order = append(order, r)
			}
			freq[r]++
		}
	}
	// Most frequent first; first-seen order breaks ties.
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > maxMajorRisks {
		order = order[:maxMajorRisks]
	}

	heavyTasks := 0
	for _, t := range tasks {
		if t.EstimatedTokens >= highTokenTask {
			heavyTasks++
		}
	}

	overall := models.RiskLow
	if heavyTasks >= 3 || totalCost > 1.0 || len(order) >= 3 {
		overall = models.RiskMedium
	}
	if heavyTasks >= 6 || totalCost > 5.0 || len(order) >= 5 {
		overall = models.RiskHigh
	}

	assessment := models.RiskAssessment{Overall: overall, MajorRisks: order}
	if overall != models.RiskLow {
		assessment.Mitigations = []string{
			"review the plan before execution",
			"execute incrementally and re-assess after each goal",
		}
	}
	return assessment
}
