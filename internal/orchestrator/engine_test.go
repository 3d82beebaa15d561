package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loomworks/loom/internal/chain"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/planning"
	"github.com/loomworks/loom/internal/reflection"
	"github.com/loomworks/loom/internal/routing"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
)

// scriptedGen answers every pipeline prompt shape sensibly: critiques as
// structured JSON, goal derivation as a goal list, everything else as
// plain text.
type scriptedGen struct {
	fail  bool
	calls int
}

const testGoalsJSON = `[
  {"title": "Understand", "priority": "high", "type": "primary", "complexity": "simple"},
  {"title": "Build", "priority": "critical", "type": "primary", "complexity": "simple", "depends_on": ["Understand"]},
  {"title": "Verify", "priority": "medium", "type": "milestone", "complexity": "simple", "depends_on": ["Build"]}
]`

func (g *scriptedGen) Generate(_ context.Context, prompt, providerID string) (*contracts.GenerationResult, error) {
	g.calls++
	if g.fail {
		return nil, &contracts.BackendError{Provider: providerID, Op: "generate", Err: errors.New("backend down")}
	}
	switch {
	case strings.Contains(prompt, "Critique the following output"):
		return &contracts.GenerationResult{
			Text:       `{"overall_score": 0.95, "criteria_scores": {}, "confidence": 0.9, "needs_revision": false}`,
			TokensUsed: 10, CostUSD: 0.001,
		}, nil
	case strings.Contains(prompt, "an array in this exact shape"):
		return &contracts.GenerationResult{Text: testGoalsJSON, TokensUsed: 10, CostUSD: 0.001}, nil
	default:
		return &contracts.GenerationResult{Text: "generated answer", TokensUsed: 20, CostUSD: 0.002}, nil
	}
}

func newTestService(t *testing.T, gen contracts.GenerationClient) (*Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	err := s.CreateProvider(context.Background(), &models.ProviderCapabilities{
		ID:               "gpt-4o-mini",
		ComplexityRating: 5,
		QualityScore:     0.8,
		Reliability:      0.98,
		CostPer1KTokens:  0.001,
		Domains:          []string{"general", "code", "analysis"},
	})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}

	cfg := config.EngineConfig{MaxAttempts: 2, BaseBackoffMs: 1, AttemptTimeoutMs: 60000, ContextWindow: 5, MaxIterations: 3, ImprovementThreshold: 0.1}
	chains := chain.NewEngine(s, gen, nil, contracts.NopSink{}, cfg)
	chains.SetSleeper(func(context.Context, time.Duration) error { return nil })
	router := routing.NewEngine(s)
	planner := planning.NewEngine(s, gen, chains, contracts.NopSink{})
	reflector := reflection.NewEngine(s, gen, contracts.NopSink{}, cfg)

	return NewService(s, gen, router, chains, planner, reflector, contracts.NopSink{}), s
}

func TestProcessSimpleRequestGeneratesDirectly(t *testing.T) {
	svc, s := newTestService(t, &scriptedGen{})

	resp := svc.Process(context.Background(), &models.AgenticRequest{
		UserID:  "user-1",
		Request: "What is a goroutine?",
	})
	if resp.Output != "generated answer" {
		t.Errorf("output = %q, want direct generation", resp.Output)
	}
	want := []string{"routing", "generation"}
	if len(resp.PatternsUsed) != len(want) {
		t.Fatalf("patterns = %v, want %v", resp.PatternsUsed, want)
	}
	for i := range want {
		if resp.PatternsUsed[i] != want[i] {
			t.Errorf("patterns = %v, want %v", resp.PatternsUsed, want)
		}
	}
	if resp.Metadata["error"] == true {
		t.Error("degraded response for a healthy pipeline")
	}
	if resp.Usage.TotalTokens == 0 {
		t.Error("usage not accumulated")
	}

	session, err := s.GetAgenticSession(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("GetAgenticSession: %v", err)
	}
	if session.Status != models.SessionCompleted {
		t.Errorf("session status = %q, want completed", session.Status)
	}
	if session.Response == nil {
		t.Error("session response not persisted")
	}
}

func TestProcessEmptyRequestDegrades(t *testing.T) {
	svc, _ := newTestService(t, &scriptedGen{})

	resp := svc.Process(context.Background(), &models.AgenticRequest{UserID: "u"})
	if resp.Output != "" {
		t.Errorf("output = %q, want empty", resp.Output)
	}
	if resp.Metadata["error"] != true {
		t.Error("metadata.error not set")
	}
}

func TestProcessBackendFailureNeverThrows(t *testing.T) {
	svc, s := newTestService(t, &scriptedGen{fail: true})

	resp := svc.Process(context.Background(), &models.AgenticRequest{
		UserID:  "user-1",
		Request: "What is a goroutine?",
	})
	if resp.Output != "" {
		t.Errorf("output = %q, want empty on total failure", resp.Output)
	}
	if resp.Metadata["error"] != true {
		t.Error("metadata.error not set")
	}
	if resp.Confidence != 0 {
		t.Errorf("confidence = %.2f, want 0", resp.Confidence)
	}

	session, err := s.GetAgenticSession(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("GetAgenticSession: %v", err)
	}
	if session.Status != models.SessionFailed {
		t.Errorf("session status = %q, want failed", session.Status)
	}
}

func TestProcessChainingHint(t *testing.T) {
	svc, s := newTestService(t, &scriptedGen{})

	resp := svc.Process(context.Background(), &models.AgenticRequest{
		UserID:  "user-1",
		Request: "Refactor the parser.",
		Hints:   &models.ExecutionHints{Chaining: boolPtr(true)},
	})
	if resp.Output == "" {
		t.Fatal("no output from chaining path")
	}
	if !hasPattern(resp.PatternsUsed, "chaining") {
		t.Errorf("patterns = %v, want chaining", resp.PatternsUsed)
	}
	if resp.Metadata["chain_execution_id"] == nil {
		t.Error("chain_execution_id missing from metadata")
	}

	// The builtin pipeline is installed on first use.
	def, err := s.GetChain(context.Background(), builtinChainID)
	if err != nil {
		t.Fatalf("builtin chain not installed: %v", err)
	}
	if got := len(def.Steps); got != 3 {
		t.Errorf("builtin chain steps = %d, want 3", got)
	}
}

func TestProcessPlanningHintCapsEagerExecution(t *testing.T) {
	svc, s := newTestService(t, &scriptedGen{})

	resp := svc.Process(context.Background(), &models.AgenticRequest{
		UserID:  "user-1",
		Request: "Ship the invoicing feature end to end.",
		Hints:   &models.ExecutionHints{Planning: boolPtr(true)},
	})
	if !hasPattern(resp.PatternsUsed, "planning") {
		t.Fatalf("patterns = %v, want planning", resp.PatternsUsed)
	}
	planID, _ := resp.Metadata["plan_id"].(string)
	if planID == "" {
		t.Fatal("plan_id missing from metadata")
	}

	plan, err := s.GetPlan(context.Background(), planID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	// 3 simple goals x 2 tasks each; only the first 3 run eagerly.
	if got := plan.Progress.CompletedTasks; got != planningTaskCap {
		t.Errorf("completed tasks = %d, want cap %d", got, planningTaskCap)
	}
	if plan.Status != models.PlanExecuting {
		t.Errorf("plan status = %q, want executing after partial run", plan.Status)
	}
}

func TestProcessReflectionHintRunsLast(t *testing.T) {
	svc, _ := newTestService(t, &scriptedGen{})

	resp := svc.Process(context.Background(), &models.AgenticRequest{
		UserID:  "user-1",
		Request: "What is a goroutine?",
		Hints:   &models.ExecutionHints{Reflection: boolPtr(true)},
	})
	if !hasPattern(resp.PatternsUsed, "reflection") {
		t.Fatalf("patterns = %v, want reflection", resp.PatternsUsed)
	}
	if got := resp.PatternsUsed[len(resp.PatternsUsed)-1]; got != "reflection" {
		t.Errorf("last pattern = %q, want reflection", got)
	}
	if resp.Output == "" {
		t.Error("reflection dropped the output")
	}
}

func TestCostSummaryAccumulates(t *testing.T) {
	svc, _ := newTestService(t, &scriptedGen{})

	for i := 0; i < 2; i++ {
		svc.Process(context.Background(), &models.AgenticRequest{
			UserID:  "user-1",
			Request: "What is a goroutine?",
		})
	}

	summary := svc.CostSummary("user-1")
	if summary.TotalTokens != 40 {
		t.Errorf("TotalTokens = %d, want 40 across two direct generations", summary.TotalTokens)
	}
	if summary.ByPattern["generation"] == 0 {
		t.Error("generation pattern cost not tracked")
	}
	if summary.ByProvider["gpt-4o-mini"] == 0 {
		t.Error("provider cost not tracked")
	}

	other := svc.CostSummary("user-2")
	if other.TotalTokens != 0 {
		t.Errorf("unrelated user tokens = %d, want 0", other.TotalTokens)
	}
}

func hasPattern(patterns []string, want string) bool {
	for _, p := range patterns {
		if p == want {
			return true
		}
	}
	return false
}
