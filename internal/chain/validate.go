package chain

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
)

// compiledValidation is a step validation with its expr rule pre-compiled.
type compiledValidation struct {
	spec *models.StepValidation
	rule *vm.Program
}

// compileValidations pre-compiles every step's validation rule so that a
// malformed rule fails the execution up front as a ValidationError instead
// of burning retry attempts at run time.
func compileValidations(def *models.ChainDefinition) (map[string]*compiledValidation, error) {
	out := make(map[string]*compiledValidation)
	for _, step := range def.Steps {
		if step.Validation == nil {
			continue
		}
		cv := &compiledValidation{spec: step.Validation}
		if rule := step.Validation.Rule; rule != "" {
			program, err := expr.Compile(rule, expr.Env(ruleEnv("")), expr.AsBool())
			if err != nil {
				return nil, &contracts.ValidationError{
					Field:  "steps." + step.ID + ".validation.rule",
					Reason: err.Error(),
				}
			}
			cv.rule = program
		}
		out[step.ID] = cv
	}
	return out, nil
}

func ruleEnv(output string) map[string]interface{} {
	return map[string]interface{}{
		"output": output,
		"length": len(output),
	}
}

// check rejects an attempt's output. The returned error is retryable:
// a validation failure counts as a failed attempt, not a chain failure.
func (cv *compiledValidation) check(output string) error {
	spec := cv.spec
	if spec.MinLength > 0 && len(output) < spec.MinLength {
		return fmt.Errorf("output length %d below minimum %d", len(output), spec.MinLength)
	}
	if spec.MaxLength > 0 && len(output) > spec.MaxLength {
		return fmt.Errorf("output length %d above maximum %d", len(output), spec.MaxLength)
	}
	for _, term := range spec.RequiredTerms {
		if !strings.Contains(strings.ToLower(output), strings.ToLower(term)) {
			return fmt.Errorf("output missing required term %q", term)
		}
	}
	if cv.rule != nil {
		result, err := expr.Run(cv.rule, ruleEnv(output))
		if err != nil {
			return fmt.Errorf("validation rule: %w", err)
		}
		if ok, _ := result.(bool); !ok {
			return fmt.Errorf("validation rule rejected output")
		}
	}
	return nil
}
