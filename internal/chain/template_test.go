package chain

import (
	"reflect"
	"testing"
)

func TestRender(t *testing.T) {
	vars := map[string]string{
		"request":        "add caching",
		"analyze_result": "use an LRU",
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"simple", "Task: {{request}}", "Task: add caching"},
		{"whitespace", "Task: {{ request }}", "Task: add caching"},
		{"multiple", "{{request}} -> {{analyze_result}}", "add caching -> use an LRU"},
		{"unresolved", "Task: {{missing}}!", "Task: !"},
		{"no placeholders", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(tt.template, vars); got != tt.want {
				t.Errorf("render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestSelectInputs(t *testing.T) {
	vars := map[string]string{"a": "1", "b": "2", "c": "3"}

	got := selectInputs(vars, []string{"a", "c", "missing"})
	want := map[string]string{"a": "1", "c": "3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("selectInputs = %v, want %v", got, want)
	}
}

func TestResultVariable(t *testing.T) {
	if got := resultVariable("analyze"); got != "analyze_result" {
		t.Errorf("resultVariable = %q, want analyze_result", got)
	}
	if !isResultVariable("analyze_result") {
		t.Error("isResultVariable(analyze_result) = false")
	}
	if isResultVariable("request") {
		t.Error("isResultVariable(request) = true")
	}
}
