package chain

import (
	"time"

	"github.com/loomworks/loom/pkg/models"
)

// recordStepOutput writes a completed step's output into the shared
// context: the <stepID>_result variable plus a history entry, then applies
// the definition's context strategy.
func (e *Engine) recordStepOutput(def *models.ChainDefinition, cc *models.ChainContext, stepID, output string) {
	if cc.Variables == nil {
		cc.Variables = make(map[string]string)
	}
	cc.Variables[resultVariable(stepID)] = output
	cc.History = append(cc.History, models.HistoryEntry{
		StepID:    stepID,
		Output:    output,
		Timestamp: time.Now().UTC(),
	})

	e.applyStrategy(def, cc)
}

// applyStrategy prunes the context according to the chain's strategy.
//
//   - accumulate: keep everything
//   - windowed:   keep only the most recent window of history entries;
//     named variables are always kept
//   - selective:  keep only the caller-declared variables (step results
//     are always kept); history is not pruned beyond max size
func (e *Engine) applyStrategy(def *models.ChainDefinition, cc *models.ChainContext) {
	switch def.ContextStrategy {
	case models.ContextWindowed:
		window := e.contextWindow
		if window <= 0 {
			window = defaultContextWindow
		}
		if len(cc.History) > window {
			cc.History = cc.History[len(cc.History)-window:]
		}

	case models.ContextSelective:
		if len(def.KeepVariables) == 0 {
			break
		}
		keep := make(map[string]bool, len(def.KeepVariables))
		for _, k := range def.KeepVariables {
			keep[k] = true
		}
		for name := range cc.Variables {
			if !keep[name] && !isResultVariable(name) {
				delete(cc.Variables, name)
			}
		}
	}

	// Hard cap on history regardless of strategy.
	if def.MaxContextSize > 0 && len(cc.History) > def.MaxContextSize {
		cc.History = cc.History[len(cc.History)-def.MaxContextSize:]
	}
}
