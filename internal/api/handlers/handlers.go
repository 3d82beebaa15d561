// Package handlers implements the HTTP handlers for the Loom API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/loomworks/loom/internal/api/middleware"
	"github.com/loomworks/loom/internal/chain"
	"github.com/loomworks/loom/internal/orchestrator"
	"github.com/loomworks/loom/internal/planning"
	"github.com/loomworks/loom/internal/reflection"
	"github.com/loomworks/loom/internal/routing"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store        store.Store
	orchestrator *orchestrator.Service
	chains       *chain.Engine
	router       *routing.Engine
	reflector    *reflection.Engine
	planner      *planning.Engine
}

// New creates handlers with the given dependencies.
func New(s store.Store, orch *orchestrator.Service, chains *chain.Engine, router *routing.Engine, reflector *reflection.Engine, planner *planning.Engine) *Handlers {
	return &Handlers{
		store:        s,
		orchestrator: orch,
		chains:       chains,
		router:       router,
		reflector:    reflector,
		planner:      planner,
	}
}

// ── Response Helpers ────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode response")
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps engine and store errors onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	var nfe *contracts.NotFoundError
	var ve *contracts.ValidationError
	var nse *contracts.NoSuitableProviderError
	switch {
	case errors.As(err, &nfe):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &nse):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// ── Agentic Processing ──────────────────────────────────────

// ProcessAgentic handles POST /api/v1/agentic/process
func (h *Handlers) ProcessAgentic(w http.ResponseWriter, r *http.Request) {
	var req models.AgenticRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = middleware.GetUserID(r.Context())
	}
	if req.ProjectID == "" {
		req.ProjectID = middleware.GetProject(r.Context())
	}

	resp := h.orchestrator.Process(r.Context(), &req)

	log.Info().
		Str("session_id", resp.SessionID).
		Str("user_id", req.UserID).
		Strs("patterns", resp.PatternsUsed).
		Msg("Agentic request handled")

	respondJSON(w, http.StatusOK, resp)
}

// GetAgenticSession handles GET /api/v1/agentic/sessions/{sessionID}
func (h *Handlers) GetAgenticSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	session, err := h.orchestrator.Session(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// GetCostSummary handles GET /api/v1/agentic/cost
func (h *Handlers) GetCostSummary(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = middleware.GetUserID(r.Context())
	}
	respondJSON(w, http.StatusOK, h.orchestrator.CostSummary(userID))
}

// ── Chain Definitions ───────────────────────────────────────

// ListChains handles GET /api/v1/chains
func (h *Handlers) ListChains(w http.ResponseWriter, r *http.Request) {
	chains, err := h.store.ListChains(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"chains": chains,
		"count":  len(chains),
	})
}

// CreateChain handles POST /api/v1/chains
func (h *Handlers) CreateChain(w http.ResponseWriter, r *http.Request) {
	var def models.ChainDefinition
	if !decodeJSON(w, r, &def) {
		return
	}
	if len(def.Steps) == 0 {
		respondError(w, http.StatusBadRequest, "Chain must have at least one step")
		return
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	def.CreatedAt = time.Now().UTC()

	if err := h.store.CreateChain(r.Context(), &def); err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().Str("chain_id", def.ID).Int("steps", len(def.Steps)).Msg("Chain created")
	respondJSON(w, http.StatusCreated, def)
}

// GetChain handles GET /api/v1/chains/{chainID}
func (h *Handlers) GetChain(w http.ResponseWriter, r *http.Request) {
	def, err := h.store.GetChain(r.Context(), chi.URLParam(r, "chainID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

// UpdateChain handles PUT /api/v1/chains/{chainID}
func (h *Handlers) UpdateChain(w http.ResponseWriter, r *http.Request) {
	var def models.ChainDefinition
	if !decodeJSON(w, r, &def) {
		return
	}
	def.ID = chi.URLParam(r, "chainID")
	if len(def.Steps) == 0 {
		respondError(w, http.StatusBadRequest, "Chain must have at least one step")
		return
	}
	if err := h.store.UpdateChain(r.Context(), &def); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

// DeleteChain handles DELETE /api/v1/chains/{chainID}
func (h *Handlers) DeleteChain(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteChain(r.Context(), chi.URLParam(r, "chainID")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Chain Executions ────────────────────────────────────────

type executeChainRequest struct {
	Input map[string]string `json:"input"`
}

// ExecuteChain handles POST /api/v1/chains/{chainID}/execute
func (h *Handlers) ExecuteChain(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")

	var req executeChainRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	exec, err := h.chains.Execute(r.Context(), chainID, req.Input,
		middleware.GetUserID(r.Context()), middleware.GetProject(r.Context()))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().
		Str("chain_id", chainID).
		Str("execution_id", exec.ID).
		Str("status", string(exec.Status)).
		Msg("Chain executed")

	respondJSON(w, http.StatusOK, exec)
}

// ListExecutions handles GET /api/v1/chains/executions
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	ownerID := r.URL.Query().Get("user_id")
	if ownerID == "" {
		ownerID = middleware.GetUserID(r.Context())
	}

	execs, err := h.store.ListExecutions(r.Context(), ownerID, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
	})
}

// GetExecution handles GET /api/v1/chains/executions/{executionID}
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.chains.Status(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// PauseExecution handles POST /api/v1/chains/executions/{executionID}/pause
func (h *Handlers) PauseExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	exec, err := h.chains.Pause(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("execution_id", id).Msg("Execution paused")
	respondJSON(w, http.StatusOK, exec)
}

// ResumeExecution handles POST /api/v1/chains/executions/{executionID}/resume
func (h *Handlers) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	exec, err := h.chains.Resume(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("execution_id", id).Str("status", string(exec.Status)).Msg("Execution resumed")
	respondJSON(w, http.StatusOK, exec)
}

// ── Routing ─────────────────────────────────────────────────

type routeRequest struct {
	Description string                     `json:"description,omitempty"`
	Task        models.TaskCharacteristics `json:"task"`
	User        *models.UserContext        `json:"user_context,omitempty"`
	Constraints *models.RoutingConstraints `json:"constraints,omitempty"`
}

// Route handles POST /api/v1/routing/route
func (h *Handlers) Route(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user := models.UserContext{UserID: middleware.GetUserID(r.Context())}
	if req.User != nil {
		user = *req.User
	}

	decision, err := h.router.Route(r.Context(), req.Description, req.Task, user, req.Constraints)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().
		Str("provider", decision.Provider).
		Float64("confidence", decision.Confidence).
		Msg("Routing decision made")

	respondJSON(w, http.StatusOK, decision)
}

// RecordOutcome handles POST /api/v1/routing/outcomes
func (h *Handlers) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome models.RoutingOutcome
	if !decodeJSON(w, r, &outcome) {
		return
	}
	if outcome.UserID == "" {
		outcome.UserID = middleware.GetUserID(r.Context())
	}
	if outcome.Provider == "" {
		respondError(w, http.StatusBadRequest, "provider is required")
		return
	}

	if err := h.router.RecordOutcome(r.Context(), outcome); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, outcome)
}

// GetRoutingHistory handles GET /api/v1/routing/history
func (h *Handlers) GetRoutingHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = middleware.GetUserID(r.Context())
	}
	decisions, err := h.router.History(r.Context(), userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// ── Providers ───────────────────────────────────────────────

// ListProviders handles GET /api/v1/routing/providers
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListProviders(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": providers,
		"count":     len(providers),
	})
}

// CreateProvider handles POST /api/v1/routing/providers
func (h *Handlers) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var provider models.ProviderCapabilities
	if !decodeJSON(w, r, &provider) {
		return
	}
	if provider.ID == "" {
		respondError(w, http.StatusBadRequest, "Provider ID is required")
		return
	}
	provider.CreatedAt = time.Now().UTC()

	if err := h.store.CreateProvider(r.Context(), &provider); err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("provider_id", provider.ID).Msg("Provider registered")
	respondJSON(w, http.StatusCreated, provider)
}

// GetProvider handles GET /api/v1/routing/providers/{providerID}
func (h *Handlers) GetProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := h.store.GetProvider(r.Context(), chi.URLParam(r, "providerID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, provider)
}

// UpdateProvider handles PUT /api/v1/routing/providers/{providerID}
func (h *Handlers) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	var provider models.ProviderCapabilities
	if !decodeJSON(w, r, &provider) {
		return
	}
	provider.ID = chi.URLParam(r, "providerID")

	if err := h.store.UpdateProvider(r.Context(), &provider); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, provider)
}

// DeleteProvider handles DELETE /api/v1/routing/providers/{providerID}
func (h *Handlers) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteProvider(r.Context(), chi.URLParam(r, "providerID")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Routing Rules ───────────────────────────────────────────

// ListRules handles GET /api/v1/routing/rules
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListRules(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// CreateRule handles POST /api/v1/routing/rules
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.RoutingRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	if len(rule.PreferredProviders) == 0 && len(rule.FallbackProviders) == 0 {
		respondError(w, http.StatusBadRequest, "Rule must name preferred or fallback providers")
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now().UTC()

	if err := h.store.CreateRule(r.Context(), &rule); err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("rule_id", rule.ID).Int("priority", rule.Priority).Msg("Routing rule created")
	respondJSON(w, http.StatusCreated, rule)
}

// GetRule handles GET /api/v1/routing/rules/{ruleID}
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// UpdateRule handles PUT /api/v1/routing/rules/{ruleID}
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.RoutingRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	rule.ID = chi.URLParam(r, "ruleID")

	if err := h.store.UpdateRule(r.Context(), &rule); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/v1/routing/rules/{ruleID}
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteRule(r.Context(), chi.URLParam(r, "ruleID")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Reflection ──────────────────────────────────────────────

type reflectionRequest struct {
	Context  models.ReflectionContext    `json:"context"`
	Criteria []models.ReflectionCriteria `json:"criteria,omitempty"`
}

// CreateReflectionSession handles POST /api/v1/reflection/sessions
func (h *Handlers) CreateReflectionSession(w http.ResponseWriter, r *http.Request) {
	var req reflectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Context.Task == "" || req.Context.InitialOutput == "" {
		respondError(w, http.StatusBadRequest, "task and initial_output are required")
		return
	}

	session, err := h.reflector.StartSession(r.Context(), req.Context, req.Criteria,
		middleware.GetUserID(r.Context()), middleware.GetProject(r.Context()))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().
		Str("session_id", session.ID).
		Int("iterations", len(session.Iterations)).
		Float64("improvement", session.TotalImprovement).
		Msg("Reflection session completed")

	respondJSON(w, http.StatusCreated, session)
}

// GetReflectionSession handles GET /api/v1/reflection/sessions/{sessionID}
func (h *Handlers) GetReflectionSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.reflector.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// ── Planning ────────────────────────────────────────────────

type decomposeRequest struct {
	Request string `json:"request"`
	Context string `json:"context,omitempty"`
}

// DecomposePlan handles POST /api/v1/plans/decompose
func (h *Handlers) DecomposePlan(w http.ResponseWriter, r *http.Request) {
	var req decomposeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	plan, err := h.planner.Decompose(r.Context(), req.Request, req.Context,
		middleware.GetUserID(r.Context()))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().
		Str("plan_id", plan.ID).
		Int("goals", len(plan.Goals)).
		Int("tasks", len(plan.Tasks)).
		Str("strategy", string(plan.Strategy)).
		Msg("Plan decomposed")

	respondJSON(w, http.StatusCreated, plan)
}

// ListPlans handles GET /api/v1/plans
func (h *Handlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	ownerID := r.URL.Query().Get("user_id")
	if ownerID == "" {
		ownerID = middleware.GetUserID(r.Context())
	}

	plans, err := h.store.ListPlans(r.Context(), ownerID, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"plans": plans,
		"count": len(plans),
	})
}

// GetPlan handles GET /api/v1/plans/{planID}
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.planner.Plan(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// ExecutePlan handles POST /api/v1/plans/{planID}/execute
func (h *Handlers) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "planID")
	plan, err := h.planner.ExecutePlan(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().
		Str("plan_id", id).
		Str("status", string(plan.Status)).
		Int("completed", plan.Progress.CompletedTasks).
		Msg("Plan executed")

	respondJSON(w, http.StatusOK, plan)
}
