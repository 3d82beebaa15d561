package chain

import (
	"fmt"
	"testing"

	"github.com/loomworks/loom/pkg/models"
)

func recordN(e *Engine, def *models.ChainDefinition, cc *models.ChainContext, n int) {
	for i := 0; i < n; i++ {
		e.recordStepOutput(def, cc, fmt.Sprintf("step%d", i), fmt.Sprintf("out%d", i))
	}
}

func TestAccumulateKeepsFullHistory(t *testing.T) {
	e := &Engine{contextWindow: 3}
	def := &models.ChainDefinition{ContextStrategy: models.ContextAccumulate}
	cc := &models.ChainContext{}

	recordN(e, def, cc, 10)
	if got := len(cc.History); got != 10 {
		t.Errorf("len(History) = %d, want 10", got)
	}
}

func TestWindowedTrimsHistoryKeepsVariables(t *testing.T) {
	e := &Engine{contextWindow: 3}
	def := &models.ChainDefinition{ContextStrategy: models.ContextWindowed}
	cc := &models.ChainContext{}

	recordN(e, def, cc, 10)
	if got := len(cc.History); got != 3 {
		t.Fatalf("len(History) = %d, want window 3", got)
	}
	if got := cc.History[0].StepID; got != "step7" {
		t.Errorf("oldest kept entry = %q, want step7", got)
	}
	// Variables survive the window.
	if got := len(cc.Variables); got != 10 {
		t.Errorf("len(Variables) = %d, want 10", got)
	}
}

func TestSelectiveKeepsDeclaredAndResultVariables(t *testing.T) {
	e := &Engine{contextWindow: 5}
	def := &models.ChainDefinition{
		ContextStrategy: models.ContextSelective,
		KeepVariables:   []string{"request"},
	}
	cc := &models.ChainContext{Variables: map[string]string{
		"request": "build it",
		"scratch": "temp note",
	}}

	e.recordStepOutput(def, cc, "analyze", "analysis text")

	if _, ok := cc.Variables["request"]; !ok {
		t.Error("declared variable dropped")
	}
	if _, ok := cc.Variables["analyze_result"]; !ok {
		t.Error("step result variable dropped")
	}
	if _, ok := cc.Variables["scratch"]; ok {
		t.Error("undeclared variable kept")
	}
}

func TestMaxContextSizeCapsHistory(t *testing.T) {
	e := &Engine{contextWindow: 100}
	def := &models.ChainDefinition{
		ContextStrategy: models.ContextAccumulate,
		MaxContextSize:  4,
	}
	cc := &models.ChainContext{}

	recordN(e, def, cc, 10)
	if got := len(cc.History); got != 4 {
		t.Errorf("len(History) = %d, want cap 4", got)
	}
}
