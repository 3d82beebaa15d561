// Package planning decomposes free-text requests into goal/task execution
// plans and runs them.
//
// Decomposition derives 3-7 goals from a backend analysis of the request,
// expands each goal into 2-5 typed tasks, topologically sorts the task
// graph, and recomputes priorities along the critical path. Execution
// walks the sorted order strictly sequentially.
package planning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
	"github.com/rs/zerolog/log"
)

// analysisProvider handles the scoping and goal-derivation calls.
const analysisProvider = "gpt-4o"

// estimatedCostPer1K prices plan estimates before a real backend is
// chosen. Actual cost comes from execution.
const estimatedCostPer1K = 0.01

// ChainRunner runs a chain on behalf of a plan task. Satisfied by the
// chaining engine.
type ChainRunner interface {
	Execute(ctx context.Context, chainID string, initialInput map[string]string, ownerID, scopeID string) (*models.ChainExecution, error)
}

// Engine builds and executes plans.
type Engine struct {
	store  store.Store
	gen    contracts.GenerationClient
	chains ChainRunner
	sink   contracts.LearningSink
}

// NewEngine creates a planning engine. chains may be nil when chain
// delegation is not available; tasks then always call the generation
// backend directly.
func NewEngine(s store.Store, gen contracts.GenerationClient, chains ChainRunner, sink contracts.LearningSink) *Engine {
	if sink == nil {
		sink = contracts.NopSink{}
	}
	return &Engine{store: s, gen: gen, chains: chains, sink: sink}
}

// Decompose turns a request into a draft execution plan.
func (e *Engine) Decompose(ctx context.Context, request, planningContext, ownerID string) (*models.ExecutionPlan, error) {
	if strings.TrimSpace(request) == "" {
		return nil, &contracts.ValidationError{Field: "request", Reason: "must not be empty"}
	}

	plan := &models.ExecutionPlan{
		ID:        uuid.New().String(),
		Request:   request,
		OwnerID:   ownerID,
		Status:    models.PlanDraft,
		CreatedAt: time.Now().UTC(),
	}

	// Both backend calls are best effort: an unreachable backend
	// degrades to the deterministic fallback decomposition.
	analysis := ""
	if res, err := e.gen.Generate(ctx, analysisPrompt(request, planningContext), analysisProvider); err == nil {
		analysis = res.Text
		plan.Usage.Add(usageOf(res))
	} else {
		log.Warn().Err(err).Msg("Plan analysis call failed, continuing without analysis")
	}

	goalsRaw := ""
	if res, err := e.gen.Generate(ctx, goalsPrompt(request, analysis), analysisProvider); err == nil {
		goalsRaw = res.Text
		plan.Usage.Add(usageOf(res))
	} else {
		log.Warn().Err(err).Msg("Goal derivation call failed, using fallback decomposition")
	}

	plan.Goals = parseGoals(goalsRaw, request)
	plan.Tasks = expandGoals(plan.Goals)

	order, err := topoSort(plan.Tasks)
	if err != nil {
		return nil, err
	}
	plan.ExecutionOrder = order
	recomputePriorities(plan)

	plan.Strategy = inferStrategy(plan.Tasks)
	for _, g := range plan.Goals {
		plan.EstimatedHours += g.EstimatedHours
	}
	for i := range plan.Tasks {
		plan.Tasks[i].EstimatedCost = float64(plan.Tasks[i].EstimatedTokens) / 1000 * estimatedCostPer1K
		plan.EstimatedCost += plan.Tasks[i].EstimatedCost
	}
	plan.Risk = assessRisk(plan.Goals, plan.Tasks, plan.EstimatedCost)
	plan.Progress = models.PlanProgress{TotalTasks: len(plan.Tasks)}

	if err := e.store.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}

	log.Info().
		Str("plan_id", plan.ID).
		Int("goals", len(plan.Goals)).
		Int("tasks", len(plan.Tasks)).
		Str("strategy", string(plan.Strategy)).
		Str("risk", string(plan.Risk.Overall)).
		Msg("Plan decomposed")

	e.sink.Record(ctx, "", "plan", map[string]interface{}{
		"plan_id":  plan.ID,
		"request":  request,
		"goals":    len(plan.Goals),
		"tasks":    len(plan.Tasks),
		"strategy": plan.Strategy,
	}, map[string]string{"owner_id": ownerID})

	return plan, nil
}

// Plan returns a persisted plan.
func (e *Engine) Plan(ctx context.Context, id string) (*models.ExecutionPlan, error) {
	return e.store.GetPlan(ctx, id)
}

// ExecutePlan runs every task in the plan's topological order. A task
// failure blocks the task and fails the plan; already-finished tasks keep
// their results. The mutated plan is returned; a non-nil error means the
// plan could not be run at all.
func (e *Engine) ExecutePlan(ctx context.Context, planID string) (*models.ExecutionPlan, error) {
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != models.PlanDraft && plan.Status != models.PlanApproved {
		return nil, &contracts.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("plan in status %q cannot be executed", plan.Status),
		}
	}

	plan.Status = models.PlanExecuting
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return nil, err
	}

	n, err := e.runTasks(ctx, plan, plan.ExecutionOrder)
	if err == nil {
		now := time.Now().UTC()
		plan.Status = models.PlanCompleted
		plan.CompletedAt = &now
	}
	if uerr := e.store.UpdatePlan(ctx, plan); uerr != nil {
		log.Error().Err(uerr).Str("plan_id", plan.ID).Msg("Failed to persist plan")
	}

	log.Info().
		Str("plan_id", plan.ID).
		Str("status", string(plan.Status)).
		Int("tasks_run", n).
		Msg("Plan execution finished")

	return plan, nil
}

// ExecuteLeadingTasks runs only the first n tasks of the plan in order,
// leaving the rest pending and the plan executing. Used by the
// orchestration path, where full plan execution is a separate call.
func (e *Engine) ExecuteLeadingTasks(ctx context.Context, plan *models.ExecutionPlan, n int) (string, error) {
	order := plan.ExecutionOrder
	if len(order) > n {
		order = order[:n]
	}
	plan.Status = models.PlanExecuting
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return "", err
	}

	_, err := e.runTasks(ctx, plan, order)
	if uerr := e.store.UpdatePlan(ctx, plan); uerr != nil {
		log.Error().Err(uerr).Str("plan_id", plan.ID).Msg("Failed to persist plan")
	}
	if err != nil {
		return "", err
	}

	// The last executed task's output stands in for the partial result.
	var output string
	for _, id := range order {
		if t := plan.TaskByID(id); t != nil && t.Status == models.TaskCompleted {
			output = t.Output
		}
	}
	return output, nil
}

// runTasks executes the given task ids sequentially, mutating the plan.
// Returns the number of tasks completed and the first failure.
func (e *Engine) runTasks(ctx context.Context, plan *models.ExecutionPlan, order []string) (int, error) {
	completed := 0
	for _, id := range order {
		task := plan.TaskByID(id)
		if task == nil || task.Status == models.TaskCompleted {
			continue
		}

		task.Status = models.TaskInProgress
		output, usage, err := e.runTask(ctx, plan, task)
		plan.Usage.Add(usage)
		if err != nil {
			task.Status = models.TaskBlocked
			task.Error = err.Error()
			plan.Status = models.PlanFailed
			plan.Progress.FailedTasks++
			log.Warn().Err(err).Str("plan_id", plan.ID).Str("task_id", task.ID).Msg("Plan task failed")
			return completed, err
		}

		task.Status = models.TaskCompleted
		task.Output = output
		plan.Progress.CompletedTasks++
		completed++

		if err := e.store.UpdatePlan(ctx, plan); err != nil {
			log.Error().Err(err).Str("plan_id", plan.ID).Msg("Failed to persist task progress")
		}
	}
	return completed, nil
}

// runTask executes one task, delegating to a chain when one is assigned.
func (e *Engine) runTask(ctx context.Context, plan *models.ExecutionPlan, task *models.Task) (string, models.TokenUsage, error) {
	if task.ChainID != "" && e.chains != nil {
		exec, err := e.chains.Execute(ctx, task.ChainID, map[string]string{
			"request": taskPrompt(plan, task),
		}, plan.OwnerID, "")
		if err != nil {
			return "", models.TokenUsage{}, err
		}
		if exec.Status != models.ExecutionCompleted {
			return "", exec.Usage, fmt.Errorf("chain %s %s: %s", task.ChainID, exec.Status, exec.Error)
		}
		var output string
		if n := len(exec.StepResults); n > 0 {
			output = exec.StepResults[n-1].Output
		}
		return output, exec.Usage, nil
	}

	provider := task.Provider
	if provider == "" {
		provider = analysisProvider
	}
	res, err := e.gen.Generate(ctx, taskPrompt(plan, task), provider)
	if err != nil {
		return "", models.TokenUsage{}, err
	}
	return res.Text, usageOf(res), nil
}

// taskPrompt feeds the task its dependencies' outputs.
func taskPrompt(plan *models.ExecutionPlan, task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall request: %s\n\nTask (%s): %s\n", plan.Request, task.Type, task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n", task.Description)
	}
	for _, dep := range task.DependsOn {
		if d := plan.TaskByID(dep); d != nil && d.Output != "" {
			fmt.Fprintf(&b, "\nOutput of prerequisite %q:\n%s\n", d.Title, d.Output)
		}
	}
	return b.String()
}

func usageOf(res *contracts.GenerationResult) models.TokenUsage {
	return models.TokenUsage{
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		TotalTokens:  res.TokensUsed,
		CostUSD:      res.CostUSD,
	}
}
