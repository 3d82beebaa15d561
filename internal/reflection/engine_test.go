package reflection

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
)

// fakeGen scripts responses per call: critiques and revisions are
// distinguished by the prompt prefix.
type fakeGen struct {
	calls     int
	critiques []string
	revisions []string
	nCritique int
	nRevision int
}

func (f *fakeGen) Generate(_ context.Context, prompt, _ string) (*contracts.GenerationResult, error) {
	f.calls++
	if strings.Contains(prompt, "Critique the following output") {
		text := f.critiques[f.nCritique]
		f.nCritique++
		return &contracts.GenerationResult{Text: text, TokensUsed: 10}, nil
	}
	text := f.revisions[f.nRevision]
	f.nRevision++
	return &contracts.GenerationResult{Text: text, TokensUsed: 10}, nil
}

func critiqueJSON(score float64, needsRevision bool) string {
	return fmt.Sprintf(`{"overall_score": %.2f, "criteria_scores": {"quality": %.2f}, "strengths": ["clear"], "weaknesses": ["thin"], "suggestions": ["expand"], "confidence": 0.9, "needs_revision": %t}`,
		score, score, needsRevision)
}

func newTestEngine(gen *fakeGen) *Engine {
	return NewEngine(store.NewMemoryStore(), gen, contracts.NopSink{}, config.EngineConfig{
		MaxIterations:        3,
		ImprovementThreshold: 0.1,
	})
}

func TestReflectParsesStructuredCritique(t *testing.T) {
	gen := &fakeGen{critiques: []string{critiqueJSON(0.75, true)}}
	e := newTestEngine(gen)

	result, usage, err := e.Reflect(context.Background(), models.ReflectionContext{
		Task:          "write a summary",
		InitialOutput: "a summary",
	}, nil)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if result.OverallScore != 0.75 {
		t.Errorf("OverallScore = %.2f, want 0.75", result.OverallScore)
	}
	if !result.NeedsRevision {
		t.Error("NeedsRevision = false, want true")
	}
	if usage.TotalTokens != 10 {
		t.Errorf("usage = %d tokens, want 10", usage.TotalTokens)
	}
}

func TestReflectAndReviseRunsOneRevisionPass(t *testing.T) {
	gen := &fakeGen{
		critiques: []string{critiqueJSON(0.5, true)},
		revisions: []string{"draft 2"},
	}
	e := newTestEngine(gen)

	result, revised, usage, err := e.ReflectAndRevise(context.Background(), models.ReflectionContext{
		Task:          "t",
		InitialOutput: "draft 1",
	}, nil)
	if err != nil {
		t.Fatalf("ReflectAndRevise: %v", err)
	}
	if result.OverallScore != 0.5 {
		t.Errorf("OverallScore = %.2f, want 0.5", result.OverallScore)
	}
	if revised != "draft 2" {
		t.Errorf("revised = %q, want draft 2", revised)
	}
	if gen.calls != 2 {
		t.Errorf("backend calls = %d, want critique + revision", gen.calls)
	}
	if usage.TotalTokens != 20 {
		t.Errorf("usage = %d tokens, want 20 across both calls", usage.TotalTokens)
	}
}

func TestReflectAndReviseSkipsRevisionWhenNotNeeded(t *testing.T) {
	gen := &fakeGen{critiques: []string{critiqueJSON(0.92, false)}}
	e := newTestEngine(gen)

	result, revised, _, err := e.ReflectAndRevise(context.Background(), models.ReflectionContext{
		Task:          "t",
		InitialOutput: "good output",
	}, nil)
	if err != nil {
		t.Fatalf("ReflectAndRevise: %v", err)
	}
	if result.NeedsRevision {
		t.Error("NeedsRevision = true, want false")
	}
	if revised != "" {
		t.Errorf("revised = %q, want empty when no revision was needed", revised)
	}
	if gen.nRevision != 0 {
		t.Errorf("revisions requested = %d, want 0", gen.nRevision)
	}
}

func TestSessionStopsEarlyOnHighScore(t *testing.T) {
	gen := &fakeGen{critiques: []string{critiqueJSON(0.95, false)}}
	e := newTestEngine(gen)

	session, err := e.StartSession(context.Background(), models.ReflectionContext{
		Task:          "t",
		InitialOutput: "good output",
	}, nil, "user-1", "proj-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if got := len(session.Iterations); got != 1 {
		t.Errorf("iterations = %d, want 1", got)
	}
	if session.Status != models.SessionCompleted {
		t.Errorf("status = %q, want completed", session.Status)
	}
	if session.FinalOutput != "good output" {
		t.Errorf("FinalOutput = %q, want unrevised input", session.FinalOutput)
	}
}

func TestSessionRevisesAndTracksImprovement(t *testing.T) {
	gen := &fakeGen{
		critiques: []string{
			critiqueJSON(0.5, true),
			critiqueJSON(0.8, true),
			critiqueJSON(0.95, false),
		},
		revisions: []string{"draft 2", "draft 3"},
	}
	e := newTestEngine(gen)

	session, err := e.StartSession(context.Background(), models.ReflectionContext{
		Task:          "t",
		InitialOutput: "draft 1",
	}, nil, "", "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if got := len(session.Iterations); got != 3 {
		t.Fatalf("iterations = %d, want 3", got)
	}
	if session.FinalOutput != "draft 3" {
		t.Errorf("FinalOutput = %q, want draft 3", session.FinalOutput)
	}
	// Improvement against the first iteration's actual score.
	if want := 0.95 - 0.5; session.TotalImprovement < want-1e-9 || session.TotalImprovement > want+1e-9 {
		t.Errorf("TotalImprovement = %.2f, want %.2f", session.TotalImprovement, want)
	}
	if got := session.Iterations[1].Improvement; got < 0.3-1e-9 || got > 0.3+1e-9 {
		t.Errorf("iteration 2 improvement = %.2f, want 0.30", got)
	}
}

func TestSessionStopsOnDiminishingReturns(t *testing.T) {
	gen := &fakeGen{
		critiques: []string{
			critiqueJSON(0.6, true),
			critiqueJSON(0.62, true), // delta 0.02 < threshold 0.1
		},
		revisions: []string{"draft 2"},
	}
	e := newTestEngine(gen)

	session, err := e.StartSession(context.Background(), models.ReflectionContext{
		Task:          "t",
		InitialOutput: "draft 1",
	}, nil, "", "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if got := len(session.Iterations); got != 2 {
		t.Errorf("iterations = %d, want 2 after diminishing returns", got)
	}
	// The second iteration stops before requesting another revision.
	if gen.nRevision != 1 {
		t.Errorf("revisions requested = %d, want 1", gen.nRevision)
	}
}

func TestSessionCapsAtMaxIterations(t *testing.T) {
	gen := &fakeGen{
		critiques: []string{
			critiqueJSON(0.3, true),
			critiqueJSON(0.5, true),
			critiqueJSON(0.7, true),
		},
		revisions: []string{"d2", "d3"},
	}
	e := newTestEngine(gen)

	session, err := e.StartSession(context.Background(), models.ReflectionContext{
		Task:          "t",
		InitialOutput: "d1",
	}, nil, "", "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if got := len(session.Iterations); got != 3 {
		t.Errorf("iterations = %d, want max 3", got)
	}
	// No revision after the final critique.
	if gen.nRevision != 2 {
		t.Errorf("revisions requested = %d, want 2", gen.nRevision)
	}
}

func TestMinScoreForcesRevision(t *testing.T) {
	// Critique claims no revision needed, but a criterion is under its floor.
	gen := &fakeGen{critiques: []string{
		`{"overall_score": 0.85, "criteria_scores": {"correctness": 0.4}, "confidence": 0.9, "needs_revision": false}`,
	}}
	e := newTestEngine(gen)

	result, _, err := e.Reflect(context.Background(), models.ReflectionContext{
		Task:          "t",
		InitialOutput: "x",
		OutputKind:    "code",
	}, nil)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if !result.NeedsRevision {
		t.Error("NeedsRevision = false, want true when a criterion is under its min score")
	}
}
