// Package orchestrator composes the routing, chaining, reflection, and
// planning engines into a single request-processing service.
//
// Process never returns an error: every failure inside the pipeline is
// converted into a degraded response carrying metadata.error plus whatever
// partial telemetry accrued before the failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/loom/internal/chain"
	"github.com/loomworks/loom/internal/planning"
	"github.com/loomworks/loom/internal/reflection"
	"github.com/loomworks/loom/internal/routing"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
	"github.com/rs/zerolog/log"
)

// planningTaskCap bounds eager plan execution inside Process. Full-plan
// execution is a separate explicit call.
const planningTaskCap = 3

// builtinChainID names the stock analyze/draft/refine pipeline the
// orchestrator installs on first use.
const builtinChainID = "agentic_pipeline"

// Service is the orchestration entry point.
type Service struct {
	store     store.Store
	gen       contracts.GenerationClient
	router    *routing.Engine
	chains    *chain.Engine
	planner   *planning.Engine
	reflector *reflection.Engine
	sink      contracts.LearningSink
	costs     *costTracker
}

// NewService wires the engines into an orchestration service.
func NewService(s store.Store, gen contracts.GenerationClient, router *routing.Engine, chains *chain.Engine, planner *planning.Engine, reflector *reflection.Engine, sink contracts.LearningSink) *Service {
	if sink == nil {
		sink = contracts.NopSink{}
	}
	return &Service{
		store:     s,
		gen:       gen,
		router:    router,
		chains:    chains,
		planner:   planner,
		reflector: reflector,
		sink:      sink,
		costs:     newCostTracker(),
	}
}

// Process handles one agentic request end to end. It never returns an
// error; failures degrade the response instead.
func (s *Service) Process(ctx context.Context, req *models.AgenticRequest) *models.AgenticResponse {
	session := &models.AgenticSession{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Request:   *req,
		Status:    models.SessionRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAgenticSession(ctx, session); err != nil {
		log.Error().Err(err).Msg("Failed to create agentic session")
	}

	resp := &models.AgenticResponse{
		SessionID: session.ID,
		Metadata:  map[string]interface{}{},
	}

	if strings.TrimSpace(req.Request) == "" {
		s.degrade(resp, "request must not be empty")
		s.sealSession(ctx, session, resp)
		return resp
	}

	strat := selectStrategy(req)
	user := userContext(req)

	provider := chain.DefaultProvider
	decision, err := s.router.Route(ctx, req.Request, strat.characteristics, user, nil)
	if err != nil {
		s.degrade(resp, fmt.Sprintf("routing: %v", err))
	} else {
		provider = decision.Provider
		resp.Confidence = decision.Confidence
		s.recordStep(resp, req.UserID, models.StepRecord{
			Pattern:  "routing",
			Detail:   decision.Rationale,
			Provider: decision.Provider,
		})
	}

	output := ""
	if strat.usePlanning {
		output = s.runPlanning(ctx, req, resp)
	}
	if output == "" && strat.useChaining {
		output = s.runChaining(ctx, req, resp)
	}
	if output == "" {
		output = s.runGeneration(ctx, req, resp, provider)
	}
	if output != "" && strat.useReflection {
		output = s.runReflection(ctx, req, resp, strat, output)
	}

	resp.Output = output
	if output == "" {
		resp.Metadata["error"] = true
		resp.Confidence = 0
		session.Status = models.SessionFailed
	} else {
		session.Status = models.SessionCompleted
	}

	s.sealSession(ctx, session, resp)

	s.sink.Record(ctx, req.ProjectID, "agentic_response", map[string]interface{}{
		"session_id":    session.ID,
		"patterns_used": resp.PatternsUsed,
		"total_tokens":  resp.Usage.TotalTokens,
		"cost_usd":      resp.Usage.CostUSD,
	}, map[string]string{"user_id": req.UserID})

	log.Info().
		Str("session_id", session.ID).
		Strs("patterns", resp.PatternsUsed).
		Int64("total_tokens", resp.Usage.TotalTokens).
		Bool("degraded", resp.Metadata["error"] == true).
		Msg("Agentic request processed")

	return resp
}

// Session returns a persisted agentic session.
func (s *Service) Session(ctx context.Context, id string) (*models.AgenticSession, error) {
	return s.store.GetAgenticSession(ctx, id)
}

// CostSummary returns the user's current-period spend.
func (s *Service) CostSummary(userID string) *models.CostSummary {
	return s.costs.summary(userID)
}

// ── Pipeline Steps ──────────────────────────────────────────

func (s *Service) runPlanning(ctx context.Context, req *models.AgenticRequest, resp *models.AgenticResponse) string {
	t0 := time.Now()
	plan, err := s.planner.Decompose(ctx, req.Request, req.ProjectID, req.UserID)
	if err != nil {
		s.degrade(resp, fmt.Sprintf("planning: %v", err))
		return ""
	}
	resp.Metadata["plan_id"] = plan.ID

	output, err := s.planner.ExecuteLeadingTasks(ctx, plan, planningTaskCap)
	s.recordStep(resp, req.UserID, models.StepRecord{
		Pattern:    "planning",
		Detail:     fmt.Sprintf("executed first %d of %d tasks", planningTaskCap, len(plan.Tasks)),
		Usage:      plan.Usage,
		DurationMs: time.Since(t0).Milliseconds(),
	})
	if err != nil {
		s.degrade(resp, fmt.Sprintf("plan execution: %v", err))
		return ""
	}
	return output
}

func (s *Service) runChaining(ctx context.Context, req *models.AgenticRequest, resp *models.AgenticResponse) string {
	if err := s.ensureBuiltinChain(ctx); err != nil {
		s.degrade(resp, fmt.Sprintf("chaining: %v", err))
		return ""
	}

	t0 := time.Now()
	exec, err := s.chains.Execute(ctx, builtinChainID, map[string]string{
		"request": req.Request,
	}, req.UserID, req.ProjectID)
	if err != nil {
		s.degrade(resp, fmt.Sprintf("chaining: %v", err))
		return ""
	}
	resp.Metadata["chain_execution_id"] = exec.ID

	s.recordStep(resp, req.UserID, models.StepRecord{
		Pattern:    "chaining",
		Detail:     fmt.Sprintf("chain %s: %s", builtinChainID, exec.Status),
		Usage:      exec.Usage,
		DurationMs: time.Since(t0).Milliseconds(),
	})
	if exec.Status != models.ExecutionCompleted {
		s.degrade(resp, fmt.Sprintf("chaining: execution %s: %s", exec.Status, exec.Error))
		return ""
	}
	return exec.StepResults[len(exec.StepResults)-1].Output
}

func (s *Service) runGeneration(ctx context.Context, req *models.AgenticRequest, resp *models.AgenticResponse, provider string) string {
	t0 := time.Now()
	res, err := s.gen.Generate(ctx, req.Request, provider)
	if err != nil {
		s.degrade(resp, fmt.Sprintf("generation: %v", err))
		return ""
	}
	s.recordStep(resp, req.UserID, models.StepRecord{
		Pattern:  "generation",
		Provider: provider,
		Usage: models.TokenUsage{
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
			TotalTokens:  res.TokensUsed,
			CostUSD:      res.CostUSD,
		},
		DurationMs: time.Since(t0).Milliseconds(),
	})
	return res.Text
}

func (s *Service) runReflection(ctx context.Context, req *models.AgenticRequest, resp *models.AgenticResponse, strat executionStrategy, output string) string {
	t0 := time.Now()
	rs, err := s.reflector.StartSession(ctx, models.ReflectionContext{
		Task:          req.Request,
		InitialOutput: output,
		OutputKind:    reflectionKind(strat.characteristics.Domain),
	}, nil, req.UserID, req.ProjectID)
	if err != nil {
		// Reflection failure keeps the unrevised output.
		s.degrade(resp, fmt.Sprintf("reflection: %v", err))
		return output
	}
	resp.Metadata["reflection_session_id"] = rs.ID

	s.recordStep(resp, req.UserID, models.StepRecord{
		Pattern:    "reflection",
		Detail:     fmt.Sprintf("%d iteration(s), improvement %.2f", len(rs.Iterations), rs.TotalImprovement),
		Usage:      rs.Usage,
		DurationMs: time.Since(t0).Milliseconds(),
	})
	if rs.FinalOutput != "" {
		return rs.FinalOutput
	}
	return output
}

// ── Helpers ─────────────────────────────────────────────────

func (s *Service) recordStep(resp *models.AgenticResponse, userID string, step models.StepRecord) {
	resp.ExecutionPath = append(resp.ExecutionPath, step)
	resp.Usage.Add(step.Usage)
	for _, p := range resp.PatternsUsed {
		if p == step.Pattern {
			s.costs.track(userID, step.Provider, step.Pattern, step.Usage)
			return
		}
	}
	resp.PatternsUsed = append(resp.PatternsUsed, step.Pattern)
	s.costs.track(userID, step.Provider, step.Pattern, step.Usage)
}

// degrade marks the response as degraded without aborting processing.
func (s *Service) degrade(resp *models.AgenticResponse, reason string) {
	resp.Metadata["error"] = true
	errs, _ := resp.Metadata["errors"].([]string)
	resp.Metadata["errors"] = append(errs, reason)
	log.Warn().Str("reason", reason).Msg("Agentic pipeline step degraded")
}

func (s *Service) sealSession(ctx context.Context, session *models.AgenticSession, resp *models.AgenticResponse) {
	now := time.Now().UTC()
	session.Response = resp
	session.CompletedAt = &now
	if session.Status == models.SessionRunning {
		session.Status = models.SessionCompleted
	}
	if err := s.store.UpdateAgenticSession(ctx, session); err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to persist agentic session")
	}
}

// ensureBuiltinChain installs the stock pipeline on first use.
func (s *Service) ensureBuiltinChain(ctx context.Context) error {
	_, err := s.store.GetChain(ctx, builtinChainID)
	if err == nil {
		return nil
	}
	var nfe *contracts.NotFoundError
	if !errors.As(err, &nfe) {
		return err
	}

	def := &models.ChainDefinition{
		ID:          builtinChainID,
		Name:        "Agentic pipeline",
		Description: "Stock analyze/draft/refine chain used by the orchestrator",
		Steps: []models.ChainStep{
			{
				ID:             "analyze",
				PromptTemplate: "Analyze the following request and outline what a complete answer must cover.\n\n{{request}}",
				InputFields:    []string{"request"},
				OutputKind:     models.OutputAnalysis,
			},
			{
				ID:             "draft",
				PromptTemplate: "Request: {{request}}\n\nAnalysis:\n{{analyze_result}}\n\nWrite a complete answer to the request.",
				InputFields:    []string{"request"},
			},
			{
				ID:             "refine",
				PromptTemplate: "Improve the following answer. Fix mistakes, tighten the writing, keep everything correct.\n\n{{draft_result}}",
				Validation:     &models.StepValidation{MinLength: 1},
			},
		},
		ContextStrategy: models.ContextAccumulate,
		CreatedAt:       time.Now().UTC(),
	}
	return s.store.CreateChain(ctx, def)
}

func userContext(req *models.AgenticRequest) models.UserContext {
	if req.User != nil {
		return *req.User
	}
	return models.UserContext{UserID: req.UserID}
}

func reflectionKind(domain string) string {
	switch domain {
	case "code":
		return "code"
	case "analysis":
		return "analysis"
	default:
		return ""
	}
}
