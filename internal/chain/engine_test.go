package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
)

// fakeGen scripts generation responses per call.
type fakeGen struct {
	calls   int
	respond func(call int, prompt, providerID string) (*contracts.GenerationResult, error)
}

func (f *fakeGen) Generate(_ context.Context, prompt, providerID string) (*contracts.GenerationResult, error) {
	f.calls++
	return f.respond(f.calls, prompt, providerID)
}

type fakeSearch struct {
	result *contracts.SearchResult
	err    error
}

func (f *fakeSearch) Search(context.Context, string) (*contracts.SearchResult, error) {
	return f.result, f.err
}

func okText(text string) func(int, string, string) (*contracts.GenerationResult, error) {
	return func(_ int, _, providerID string) (*contracts.GenerationResult, error) {
		return &contracts.GenerationResult{
			Text:         text,
			InputTokens:  10,
			OutputTokens: 20,
			TokensUsed:   30,
			CostUSD:      0.01,
			Provider:     providerID,
		}, nil
	}
}

func newTestEngine(t *testing.T, gen contracts.GenerationClient, search contracts.SearchClient) (*Engine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	e := NewEngine(s, gen, search, contracts.NopSink{}, config.EngineConfig{
		MaxAttempts:      3,
		BaseBackoffMs:    1000,
		AttemptTimeoutMs: 60000,
		ContextWindow:    5,
	})
	e.SetSleeper(func(context.Context, time.Duration) error { return nil })
	return e, s
}

func seedChain(t *testing.T, s *store.MemoryStore, def *models.ChainDefinition) {
	t.Helper()
	if err := s.CreateChain(context.Background(), def); err != nil {
		t.Fatalf("CreateChain: %v", err)
	}
}

func TestExecuteRunsStepsInOrder(t *testing.T) {
	gen := &fakeGen{respond: func(call int, prompt, _ string) (*contracts.GenerationResult, error) {
		return &contracts.GenerationResult{Text: fmt.Sprintf("out-%d", call), TokensUsed: 5}, nil
	}}
	e, _ := newTestEngine(t, gen, &fakeSearch{})
	seedChain(t, e.store.(*store.MemoryStore), &models.ChainDefinition{
		ID: "review",
		Steps: []models.ChainStep{
			{ID: "analyze", PromptTemplate: "Analyze: {{request}}", InputFields: []string{"request"}},
			{ID: "summarize", PromptTemplate: "Summarize: {{analyze_result}}"},
		},
		ContextStrategy: models.ContextAccumulate,
	})

	exec, err := e.Execute(context.Background(), "review", map[string]string{"request": "refactor auth"}, "user-1", "proj-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionCompleted {
		t.Fatalf("status = %q, want %q", exec.Status, models.ExecutionCompleted)
	}
	if got := len(exec.StepResults); got != 2 {
		t.Fatalf("len(StepResults) = %d, want 2", got)
	}
	for i, r := range exec.StepResults {
		if r.Status != models.StepCompleted {
			t.Errorf("step %d status = %q, want completed", i, r.Status)
		}
	}
	if got := exec.Context.Variables["analyze_result"]; got != "out-1" {
		t.Errorf("analyze_result = %q, want %q", got, "out-1")
	}
	if exec.CompletedAt == nil {
		t.Error("CompletedAt not set on completed execution")
	}
	if exec.Usage.TotalTokens != 10 {
		t.Errorf("Usage.TotalTokens = %d, want 10", exec.Usage.TotalTokens)
	}
}

func TestExecuteUnknownChain(t *testing.T) {
	e, _ := newTestEngine(t, &fakeGen{respond: okText("x")}, &fakeSearch{})

	_, err := e.Execute(context.Background(), "missing", nil, "", "")
	var nfe *contracts.NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestExecuteEmptyChain(t *testing.T) {
	e, s := newTestEngine(t, &fakeGen{respond: okText("x")}, &fakeSearch{})
	seedChain(t, s, &models.ChainDefinition{ID: "empty"})

	_, err := e.Execute(context.Background(), "empty", nil, "", "")
	var ve *contracts.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestStepRetriesUntilValidationPasses(t *testing.T) {
	// First two attempts are too short, third passes.
	gen := &fakeGen{respond: func(call int, _, _ string) (*contracts.GenerationResult, error) {
		if call < 3 {
			return &contracts.GenerationResult{Text: "no", TokensUsed: 1}, nil
		}
		return &contracts.GenerationResult{Text: strings.Repeat("y", 40), TokensUsed: 1}, nil
	}}
	e, s := newTestEngine(t, gen, &fakeSearch{})
	seedChain(t, s, &models.ChainDefinition{
		ID: "validated",
		Steps: []models.ChainStep{{
			ID:             "write",
			PromptTemplate: "write",
			Validation:     &models.StepValidation{MinLength: 10},
		}},
	})

	exec, err := e.Execute(context.Background(), "validated", nil, "", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionCompleted {
		t.Fatalf("status = %q, want completed (error: %s)", exec.Status, exec.Error)
	}
	if got := exec.StepResults[0].Attempts; got != 3 {
		t.Errorf("Attempts = %d, want 3", got)
	}
	// Tokens burned on rejected attempts still count.
	if got := exec.Usage.TotalTokens; got != 3 {
		t.Errorf("Usage.TotalTokens = %d, want 3", got)
	}
}

func TestStepExhaustsRetriesAndFailsChain(t *testing.T) {
	backendDown := &contracts.BackendError{Provider: "gpt-4o-mini", Op: "generate", Err: errors.New("boom")}
	gen := &fakeGen{respond: func(int, string, string) (*contracts.GenerationResult, error) {
		return nil, backendDown
	}}
	e, s := newTestEngine(t, gen, &fakeSearch{})
	seedChain(t, s, &models.ChainDefinition{
		ID: "doomed",
		Steps: []models.ChainStep{
			{ID: "first", PromptTemplate: "a"},
			{ID: "second", PromptTemplate: "b"},
		},
	})

	exec, err := e.Execute(context.Background(), "doomed", nil, "", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionFailed {
		t.Fatalf("status = %q, want failed", exec.Status)
	}
	if exec.Error == "" {
		t.Error("Error not set on failed execution")
	}
	if gen.calls != 3 {
		t.Errorf("generation calls = %d, want 3", gen.calls)
	}
	if got := exec.StepResults[0].Status; got != models.StepFailed {
		t.Errorf("first step status = %q, want failed", got)
	}
	if got := exec.StepResults[1].Status; got != models.StepSkipped {
		t.Errorf("second step status = %q, want skipped", got)
	}
}

func TestRetryBackoffIsLinear(t *testing.T) {
	gen := &fakeGen{respond: func(int, string, string) (*contracts.GenerationResult, error) {
		return nil, &contracts.BackendError{Provider: "p", Op: "generate", Err: errors.New("flaky")}
	}}
	e, s := newTestEngine(t, gen, &fakeSearch{})

	var delays []time.Duration
	e.SetSleeper(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})
	seedChain(t, s, &models.ChainDefinition{
		ID: "flaky",
		Steps: []models.ChainStep{{
			ID:             "only",
			PromptTemplate: "x",
			Retry:          models.RetryPolicy{MaxAttempts: 3, BaseBackoffMs: 100},
		}},
	})

	if _, err := e.Execute(context.Background(), "flaky", nil, "", ""); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []time.Duration{200 * time.Millisecond, 300 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestSearchStepUsesSearchBackend(t *testing.T) {
	search := &fakeSearch{result: &contracts.SearchResult{Answer: "Go 1.24 released"}}
	gen := &fakeGen{respond: func(int, string, string) (*contracts.GenerationResult, error) {
		t.Fatal("generation backend called for a search step")
		return nil, nil
	}}
	e, s := newTestEngine(t, gen, search)
	seedChain(t, s, &models.ChainDefinition{
		ID: "research",
		Steps: []models.ChainStep{{
			ID:             "lookup",
			PromptTemplate: "latest go release",
			OutputKind:     models.OutputSearch,
		}},
	})

	exec, err := e.Execute(context.Background(), "research", nil, "", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := exec.StepResults[0].Output; got != "Go 1.24 released" {
		t.Errorf("output = %q, want search answer", got)
	}
}

func TestPauseAndResume(t *testing.T) {
	e, s := newTestEngine(t, &fakeGen{respond: okText("done")}, &fakeSearch{})

	// Pause after the first step completes, from "outside" the run loop.
	pausing := &fakeGen{}
	pausing.respond = func(call int, _, _ string) (*contracts.GenerationResult, error) {
		if call == 1 {
			execs, _ := s.ListExecutions(context.Background(), "user-1", 1)
			if len(execs) == 1 {
				if _, err := e.Pause(context.Background(), execs[0].ID); err != nil {
					t.Fatalf("Pause: %v", err)
				}
			}
		}
		return &contracts.GenerationResult{Text: fmt.Sprintf("step-%d", call), TokensUsed: 1}, nil
	}
	e.gen = pausing

	seedChain(t, s, &models.ChainDefinition{
		ID: "pausable",
		Steps: []models.ChainStep{
			{ID: "one", PromptTemplate: "a"},
			{ID: "two", PromptTemplate: "b"},
		},
	})

	exec, err := e.Execute(context.Background(), "pausable", nil, "user-1", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionPaused {
		t.Fatalf("status = %q, want paused", exec.Status)
	}
	if exec.CurrentStep != 1 {
		t.Fatalf("CurrentStep = %d, want 1", exec.CurrentStep)
	}

	resumed, err := e.Resume(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != models.ExecutionCompleted {
		t.Fatalf("resumed status = %q, want completed", resumed.Status)
	}
	// The first step must not have re-run.
	if got := resumed.StepResults[0].Output; got != "step-1" {
		t.Errorf("first step output = %q, want %q", got, "step-1")
	}
	if got := resumed.StepResults[1].Output; got != "step-2" {
		t.Errorf("second step output = %q, want %q", got, "step-2")
	}
}

func TestPauseRequiresRunning(t *testing.T) {
	e, s := newTestEngine(t, &fakeGen{respond: okText("x")}, &fakeSearch{})
	seedChain(t, s, &models.ChainDefinition{
		ID:    "quick",
		Steps: []models.ChainStep{{ID: "only", PromptTemplate: "x"}},
	})
	exec, err := e.Execute(context.Background(), "quick", nil, "", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	_, err = e.Pause(context.Background(), exec.ID)
	var ve *contracts.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("pausing a completed execution: err = %v, want ValidationError", err)
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	e, s := newTestEngine(t, &fakeGen{respond: okText("x")}, &fakeSearch{})
	seedChain(t, s, &models.ChainDefinition{
		ID:    "quick",
		Steps: []models.ChainStep{{ID: "only", PromptTemplate: "x"}},
	})
	exec, _ := e.Execute(context.Background(), "quick", nil, "", "")

	_, err := e.Resume(context.Background(), exec.ID)
	var ve *contracts.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("resuming a completed execution: err = %v, want ValidationError", err)
	}
}

func TestDefaultProviderAppliedWhenStepHasNoHint(t *testing.T) {
	var seen string
	gen := &fakeGen{respond: func(_ int, _, providerID string) (*contracts.GenerationResult, error) {
		seen = providerID
		return &contracts.GenerationResult{Text: "ok"}, nil
	}}
	e, s := newTestEngine(t, gen, &fakeSearch{})
	seedChain(t, s, &models.ChainDefinition{
		ID:    "plain",
		Steps: []models.ChainStep{{ID: "only", PromptTemplate: "x"}},
	})

	if _, err := e.Execute(context.Background(), "plain", nil, "", ""); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen != DefaultProvider {
		t.Errorf("provider = %q, want %q", seen, DefaultProvider)
	}
}

func TestMalformedValidationRuleFailsUpFront(t *testing.T) {
	gen := &fakeGen{respond: okText("x")}
	e, s := newTestEngine(t, gen, &fakeSearch{})
	seedChain(t, s, &models.ChainDefinition{
		ID: "broken-rule",
		Steps: []models.ChainStep{{
			ID:             "only",
			PromptTemplate: "x",
			Validation:     &models.StepValidation{Rule: "length >"},
		}},
	})

	_, err := e.Execute(context.Background(), "broken-rule", nil, "", "")
	var ve *contracts.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if gen.calls != 0 {
		t.Errorf("generation calls = %d, want 0 before rule compilation", gen.calls)
	}
}
