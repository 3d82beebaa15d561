package chain

import (
	"strings"
	"testing"

	"github.com/loomworks/loom/pkg/models"
)

func compileOne(t *testing.T, spec *models.StepValidation) *compiledValidation {
	t.Helper()
	def := &models.ChainDefinition{Steps: []models.ChainStep{{ID: "s", Validation: spec}}}
	out, err := compileValidations(def)
	if err != nil {
		t.Fatalf("compileValidations: %v", err)
	}
	return out["s"]
}

func TestValidationLengthBounds(t *testing.T) {
	cv := compileOne(t, &models.StepValidation{MinLength: 5, MaxLength: 10})

	if err := cv.check("ok"); err == nil {
		t.Error("short output accepted")
	}
	if err := cv.check(strings.Repeat("x", 20)); err == nil {
		t.Error("long output accepted")
	}
	if err := cv.check("exactly"); err != nil {
		t.Errorf("in-bounds output rejected: %v", err)
	}
}

func TestValidationRequiredTerms(t *testing.T) {
	cv := compileOne(t, &models.StepValidation{RequiredTerms: []string{"SQL", "index"}})

	if err := cv.check("add a covering index to the sql query"); err != nil {
		t.Errorf("case-insensitive match rejected: %v", err)
	}
	if err := cv.check("add an index"); err == nil {
		t.Error("output missing a required term accepted")
	}
}

func TestValidationExprRule(t *testing.T) {
	cv := compileOne(t, &models.StepValidation{Rule: `length > 3 && output contains "func"`})

	if err := cv.check("func main() {}"); err != nil {
		t.Errorf("matching output rejected: %v", err)
	}
	if err := cv.check("no code here"); err == nil {
		t.Error("non-matching output accepted")
	}
}

func TestCompileRejectsMalformedRule(t *testing.T) {
	def := &models.ChainDefinition{Steps: []models.ChainStep{{
		ID:         "s",
		Validation: &models.StepValidation{Rule: "output +"},
	}}}
	if _, err := compileValidations(def); err == nil {
		t.Fatal("malformed rule compiled")
	}
}
