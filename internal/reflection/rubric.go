package reflection

import "github.com/loomworks/loom/pkg/models"

// RubricFor returns the default weighted rubric for a task kind.
// Callers may pass their own criteria instead; these are the stock
// rubrics for code, analysis, plan, and everything else.
func RubricFor(kind string) []models.ReflectionCriteria {
	switch kind {
	case "code":
		return []models.ReflectionCriteria{
			{Category: "correctness", Description: "the code does what the task asks", Weight: 0.35, MinScore: 0.7},
			{Category: "readability", Description: "clear naming and structure", Weight: 0.2, MinScore: 0.5},
			{Category: "error_handling", Description: "failure paths are handled", Weight: 0.2, MinScore: 0.5},
			{Category: "efficiency", Description: "no gratuitous inefficiency", Weight: 0.15, MinScore: 0.4},
			{Category: "testability", Description: "the design can be tested", Weight: 0.1, MinScore: 0.4},
		}
	case "analysis":
		return []models.ReflectionCriteria{
			{Category: "accuracy", Description: "claims are factually grounded", Weight: 0.35, MinScore: 0.7},
			{Category: "completeness", Description: "all relevant angles covered", Weight: 0.25, MinScore: 0.5},
			{Category: "clarity", Description: "conclusions are easy to follow", Weight: 0.2, MinScore: 0.5},
			{Category: "actionability", Description: "findings translate to next steps", Weight: 0.2, MinScore: 0.4},
		}
	case "plan":
		return []models.ReflectionCriteria{
			{Category: "feasibility", Description: "the plan can actually be executed", Weight: 0.3, MinScore: 0.7},
			{Category: "completeness", Description: "no missing phases or dependencies", Weight: 0.25, MinScore: 0.5},
			{Category: "sequencing", Description: "ordering respects dependencies", Weight: 0.25, MinScore: 0.6},
			{Category: "risk_awareness", Description: "risks identified with mitigations", Weight: 0.2, MinScore: 0.4},
		}
	default:
		return []models.ReflectionCriteria{
			{Category: "quality", Description: "overall quality of the output", Weight: 0.4, MinScore: 0.6},
			{Category: "relevance", Description: "addresses the task directly", Weight: 0.35, MinScore: 0.6},
			{Category: "clarity", Description: "well organized and readable", Weight: 0.25, MinScore: 0.5},
		}
	}
}
