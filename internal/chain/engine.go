// Package chain implements the prompt-chaining engine.
//
// A chain is an ordered pipeline of templated prompt steps sharing a
// context. Steps run strictly in declaration order; step i+1 may read any
// variable written by steps 0..i. Each step retries per its policy with a
// linear backoff, and every successfully completed step is emitted to the
// learning sink best-effort.
package chain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxAttempts   = 3
	defaultBackoff       = time.Second
	defaultTimeout       = 60 * time.Second
	defaultContextWindow = 5

	// DefaultProvider is used when a step declares no backend hint.
	DefaultProvider = "gpt-4o-mini"
)

// Engine executes chain definitions.
type Engine struct {
	store  store.Store
	gen    contracts.GenerationClient
	search contracts.SearchClient
	sink   contracts.LearningSink
	sleep  contracts.Sleeper

	defaultProvider string
	maxAttempts     int
	baseBackoff     time.Duration
	attemptTimeout  time.Duration
	contextWindow   int
}

// NewEngine creates a chaining engine.
func NewEngine(s store.Store, gen contracts.GenerationClient, search contracts.SearchClient, sink contracts.LearningSink, cfg config.EngineConfig) *Engine {
	e := &Engine{
		store:           s,
		gen:             gen,
		search:          search,
		sink:            sink,
		sleep:           contracts.SleepContext,
		defaultProvider: DefaultProvider,
		maxAttempts:     cfg.MaxAttempts,
		baseBackoff:     time.Duration(cfg.BaseBackoffMs) * time.Millisecond,
		attemptTimeout:  time.Duration(cfg.AttemptTimeoutMs) * time.Millisecond,
		contextWindow:   cfg.ContextWindow,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.baseBackoff <= 0 {
		e.baseBackoff = defaultBackoff
	}
	if e.attemptTimeout <= 0 {
		e.attemptTimeout = defaultTimeout
	}
	if e.contextWindow <= 0 {
		e.contextWindow = defaultContextWindow
	}
	if e.sink == nil {
		e.sink = contracts.NopSink{}
	}
	return e
}

// SetSleeper replaces the backoff sleeper. Tests use this to run retries
// without real delays.
func (e *Engine) SetSleeper(sleep contracts.Sleeper) {
	if sleep != nil {
		e.sleep = sleep
	}
}

// Execute runs a chain from the beginning with the given initial input.
//
// The returned execution carries the terminal status; Execute returns an
// error only for pre-run failures (unknown chain, empty definition,
// malformed validation rule). A chain whose steps fail is reported through
// Status/Error on the execution, not as a Go error.
func (e *Engine) Execute(ctx context.Context, chainID string, initialInput map[string]string, ownerID, scopeID string) (*models.ChainExecution, error) {
	def, err := e.store.GetChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if len(def.Steps) == 0 {
		return nil, &contracts.ValidationError{Field: "steps", Reason: "chain has no steps"}
	}

	validations, err := compileValidations(def)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string, len(initialInput))
	for k, v := range initialInput {
		vars[k] = v
	}

	exec := &models.ChainExecution{
		ID:          uuid.New().String(),
		ChainID:     def.ID,
		OwnerID:     ownerID,
		ScopeID:     scopeID,
		Status:      models.ExecutionRunning,
		StepResults: make([]models.ChainStepResult, len(def.Steps)),
		Context: models.ChainContext{
			Variables: vars,
			Metadata:  map[string]interface{}{},
		},
		StartedAt: time.Now().UTC(),
	}
	for i, step := range def.Steps {
		exec.StepResults[i] = models.ChainStepResult{StepID: step.ID, Status: models.StepPending}
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	log.Info().
		Str("execution_id", exec.ID).
		Str("chain_id", def.ID).
		Int("steps", len(def.Steps)).
		Msg("Chain execution started")

	e.run(ctx, def, exec, validations)
	return exec, nil
}

// Status returns the current state of an execution.
func (e *Engine) Status(ctx context.Context, executionID string) (*models.ChainExecution, error) {
	return e.store.GetExecution(ctx, executionID)
}

// Pause freezes a running execution without discarding progress.
// Only legal while running; pausing prevents the next step from starting
// but never interrupts a step already in flight.
func (e *Engine) Pause(ctx context.Context, executionID string) (*models.ChainExecution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != models.ExecutionRunning {
		return nil, &contracts.ValidationError{
			Field:  "status",
			Reason: "only running executions can be paused",
		}
	}
	exec.Status = models.ExecutionPaused
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	log.Info().Str("execution_id", executionID).Int("current_step", exec.CurrentStep).Msg("Chain execution paused")
	return exec, nil
}

// Resume continues a paused execution from its checkpoint. The chain
// picks up at CurrentStep; completed steps are never re-run.
func (e *Engine) Resume(ctx context.Context, executionID string) (*models.ChainExecution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != models.ExecutionPaused {
		return nil, &contracts.ValidationError{
			Field:  "status",
			Reason: "only paused executions can be resumed",
		}
	}

	def, err := e.store.GetChain(ctx, exec.ChainID)
	if err != nil {
		return nil, err
	}
	validations, err := compileValidations(def)
	if err != nil {
		return nil, err
	}

	exec.Status = models.ExecutionRunning
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	log.Info().
		Str("execution_id", executionID).
		Int("current_step", exec.CurrentStep).
		Msg("Chain execution resumed")

	e.run(ctx, def, exec, validations)
	return exec, nil
}

// ── Step Loop ───────────────────────────────────────────────

func (e *Engine) run(ctx context.Context, def *models.ChainDefinition, exec *models.ChainExecution, validations map[string]*compiledValidation) {
	for exec.Status == models.ExecutionRunning && exec.CurrentStep < len(def.Steps) {
		step := def.Steps[exec.CurrentStep]
		result := e.executeStep(ctx, &step, exec, validations[step.ID])
		exec.StepResults[exec.CurrentStep] = *result
		exec.Usage.Add(result.Usage)

		if result.Status != models.StepCompleted {
			e.failExecution(ctx, exec, result)
			return
		}

		e.recordStepOutput(def, &exec.Context, step.ID, result.Output)
		exec.CurrentStep++

		// Honor an externally requested pause before the next step starts.
		if stored, err := e.store.GetExecution(ctx, exec.ID); err == nil && stored.Status == models.ExecutionPaused {
			exec.Status = models.ExecutionPaused
		}

		if exec.CurrentStep == len(def.Steps) && exec.Status == models.ExecutionRunning {
			now := time.Now().UTC()
			exec.Status = models.ExecutionCompleted
			exec.CompletedAt = &now
		}

		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to persist execution progress")
		}

		e.sink.Record(ctx, exec.ScopeID, "chain_step", map[string]interface{}{
			"execution_id": exec.ID,
			"chain_id":     exec.ChainID,
			"step_id":      step.ID,
			"output":       result.Output,
		}, map[string]string{"owner_id": exec.OwnerID})
	}

	if exec.Status == models.ExecutionCompleted {
		log.Info().
			Str("execution_id", exec.ID).
			Int64("total_tokens", exec.Usage.TotalTokens).
			Float64("cost_usd", exec.Usage.CostUSD).
			Msg("Chain execution completed")
	}
}

func (e *Engine) failExecution(ctx context.Context, exec *models.ChainExecution, failed *models.ChainStepResult) {
	// No partial-success chains: remaining slots are skipped, the
	// execution is failed.
	for i := exec.CurrentStep + 1; i < len(exec.StepResults); i++ {
		exec.StepResults[i].Status = models.StepSkipped
	}
	now := time.Now().UTC()
	exec.Status = models.ExecutionFailed
	exec.Error = failed.Error
	exec.CompletedAt = &now

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to persist failed execution")
	}

	log.Warn().
		Str("execution_id", exec.ID).
		Str("step_id", failed.StepID).
		Str("error", failed.Error).
		Msg("Chain execution failed")
}

// executeStep runs a single step with retry support.
func (e *Engine) executeStep(ctx context.Context, step *models.ChainStep, exec *models.ChainExecution, cv *compiledValidation) *models.ChainStepResult {
	provider := step.Provider
	if provider == "" {
		provider = e.defaultProvider
	}
	maxAttempts := step.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.maxAttempts
	}
	backoff := time.Duration(step.Retry.BaseBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = e.baseBackoff
	}

	result := &models.ChainStepResult{
		StepID:   step.ID,
		Status:   models.StepRunning,
		Input:    selectInputs(exec.Context.Variables, step.InputFields),
		Provider: provider,
	}
	prompt := render(step.PromptTemplate, exec.Context.Variables)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if attempt > 1 {
			delay := backoff * time.Duration(attempt)
			log.Info().
				Str("step_id", step.ID).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying chain step")
			if err := e.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		output, usage, err := e.attempt(ctx, step, prompt, provider)
		result.Usage.Add(usage)
		if err != nil {
			lastErr = err
			if !contracts.Retryable(err) {
				break
			}
			continue
		}

		if cv != nil {
			if verr := cv.check(output); verr != nil {
				// A validation failure is a retryable attempt failure.
				lastErr = verr
				log.Warn().Str("step_id", step.ID).Int("attempt", attempt).Err(verr).Msg("Step output rejected by validation")
				continue
			}
		}

		result.Output = output
		result.Status = models.StepCompleted
		return result
	}

	result.Status = models.StepFailed
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	return result
}

// attempt performs one generation or search call under the attempt timeout.
func (e *Engine) attempt(ctx context.Context, step *models.ChainStep, prompt, provider string) (string, models.TokenUsage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	if step.OutputKind == models.OutputSearch {
		res, err := e.search.Search(attemptCtx, prompt)
		if err != nil {
			return "", models.TokenUsage{}, err
		}
		output := res.Answer
		if output == "" {
			for _, hit := range res.Results {
				if output != "" {
					output += "\n"
				}
				output += hit.Title + ": " + hit.Snippet
			}
		}
		return output, models.TokenUsage{}, nil
	}

	gen, err := e.gen.Generate(attemptCtx, prompt, provider)
	if err != nil {
		return "", models.TokenUsage{}, err
	}
	usage := models.TokenUsage{
		InputTokens:  gen.InputTokens,
		OutputTokens: gen.OutputTokens,
		TotalTokens:  gen.TokensUsed,
		CostUSD:      gen.CostUSD,
	}
	return gen.Text, usage, nil
}
