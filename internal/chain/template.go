package chain

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// render substitutes {{variableName}} placeholders from the variable map.
// Unresolved placeholders substitute the empty string so that best-effort
// templates never fail.
func render(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		return vars[name]
	})
}

// selectInputs picks exactly the declared input fields from the variable
// map. Undeclared or missing variables are omitted, not an error.
func selectInputs(vars map[string]string, fields []string) map[string]string {
	input := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := vars[f]; ok {
			input[f] = v
		}
	}
	return input
}

// resultVariable names the context variable a completed step writes.
func resultVariable(stepID string) string {
	return stepID + "_result"
}

// isResultVariable reports whether a variable name is a step result.
func isResultVariable(name string) bool {
	return strings.HasSuffix(name, "_result")
}
