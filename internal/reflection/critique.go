package reflection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomworks/loom/pkg/models"
)

// critiquePrompt asks the backend for a structured JSON critique against
// the rubric.
func critiquePrompt(rc models.ReflectionContext, output string, criteria []models.ReflectionCriteria) string {
	var b strings.Builder
	b.WriteString("You are a strict reviewer. Critique the following output against the rubric.\n\n")
	fmt.Fprintf(&b, "Task: %s\n\nOutput:\n%s\n\nRubric:\n", rc.Task, output)
	for _, c := range criteria {
		fmt.Fprintf(&b, "- %s (weight %.2f): %s\n", c.Category, c.Weight, c.Description)
	}
	b.WriteString(`
Respond with JSON only, no prose, in this exact shape:
{"overall_score": 0.0, "criteria_scores": {"<category>": 0.0}, "strengths": [], "weaknesses": [], "suggestions": [], "confidence": 0.0, "needs_revision": false}
All scores are between 0 and 1.`)
	return b.String()
}

// revisionPrompt asks for a revision that addresses every weakness while
// preserving the listed strengths.
func revisionPrompt(rc models.ReflectionContext, output string, result *models.ReflectionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nCurrent output:\n%s\n\n", rc.Task, output)
	b.WriteString("Revise the output. You must address every weakness below while preserving the listed strengths.\n")
	if len(result.Weaknesses) > 0 {
		b.WriteString("\nWeaknesses to fix:\n")
		for _, w := range result.Weaknesses {
			b.WriteString("- " + w + "\n")
		}
	}
	if len(result.Strengths) > 0 {
		b.WriteString("\nStrengths to preserve:\n")
		for _, s := range result.Strengths {
			b.WriteString("- " + s + "\n")
		}
	}
	if len(result.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range result.Suggestions {
			b.WriteString("- " + s + "\n")
		}
	}
	b.WriteString("\nRespond with the revised output only.")
	return b.String()
}

// parseCritique decodes a structured critique, falling back to a heuristic
// scan when the backend did not return parseable JSON. A present
// overall_score field marks the payload as a real critique; a score of
// zero is a legitimate verdict, not a parse failure.
func parseCritique(raw string) *models.ReflectionResult {
	payload := []byte(extractJSON(raw))

	var marker struct {
		OverallScore *float64 `json:"overall_score"`
	}
	if err := json.Unmarshal(payload, &marker); err != nil || marker.OverallScore == nil {
		return heuristicCritique(raw)
	}

	var result models.ReflectionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return heuristicCritique(raw)
	}
	clampResult(&result)
	return &result
}

// extractJSON trims fences and prose around the first top-level object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

func clampResult(r *models.ReflectionResult) {
	r.OverallScore = clamp01(r.OverallScore)
	r.Confidence = clamp01(r.Confidence)
	for k, v := range r.CriteriaScores {
		r.CriteriaScores[k] = clamp01(v)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var negativeTerms = []string{
	"incorrect", "wrong", "missing", "fails", "error", "broken",
	"incomplete", "poor", "unclear", "confusing", "bug",
}

// heuristicCritique is the degraded path for unparseable critiques: scan
// for section headers and bullets, score 0.6 when the text sounds
// negative and 0.8 otherwise, and report reduced confidence.
func heuristicCritique(raw string) *models.ReflectionResult {
	result := &models.ReflectionResult{
		OverallScore: 0.8,
		Confidence:   0.3,
	}

	lower := strings.ToLower(raw)
	for _, term := range negativeTerms {
		if strings.Contains(lower, term) {
			result.OverallScore = 0.6
			break
		}
	}
	result.NeedsRevision = result.OverallScore < 0.8

	section := ""
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		lowered := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lowered, "strengths"):
			section = "strengths"
		case strings.HasPrefix(lowered, "weaknesses"):
			section = "weaknesses"
		case strings.HasPrefix(lowered, "suggestions"):
			section = "suggestions"
		case strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*"):
			item := strings.TrimSpace(strings.TrimLeft(trimmed, "-* "))
			if item == "" {
				continue
			}
			switch section {
			case "strengths":
				result.Strengths = append(result.Strengths, item)
			case "weaknesses":
				result.Weaknesses = append(result.Weaknesses, item)
			case "suggestions":
				result.Suggestions = append(result.Suggestions, item)
			}
		}
	}
	return result
}
