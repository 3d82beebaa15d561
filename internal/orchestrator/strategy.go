package orchestrator

import (
	"strings"

	"github.com/loomworks/loom/pkg/models"
)

// executionStrategy is the set of orchestration mechanisms selected for
// one request, plus the inferred task characteristics that drove the
// selection.
type executionStrategy struct {
	characteristics models.TaskCharacteristics
	usePlanning     bool
	useChaining     bool
	useReflection   bool
}

var (
	escalationTerms = []string{
		"architecture", "architect", "scalab", "distributed", "microservice",
		"high availability", "concurren", "performance", "security",
	}
	recencyTerms = []string{
		"latest", "recent", "news", "current", "today", "this week", "2025", "2026",
	}
	codeTerms = []string{
		"implement", "code", "function", "refactor", "bug", "api", "endpoint",
		"class", "module", "test", "debug",
	}
	analysisTerms = []string{
		"analyze", "analysis", "compare", "evaluate", "assess", "review", "investigate",
	}
	qualityTerms = []string{
		"production", "production-ready", "high quality", "thorough", "carefully", "robust",
	}
)

const (
	longRequestChars  = 400
	shortRequestChars = 80
)

// selectStrategy infers task characteristics from the request text and
// decides which orchestration mechanisms to engage. Explicit hints
// override the heuristic per mechanism.
func selectStrategy(req *models.AgenticRequest) executionStrategy {
	text := strings.ToLower(req.Request)

	domain := "general"
	switch {
	case containsAny(text, recencyTerms):
		domain = "web_research"
	case containsAny(text, codeTerms):
		domain = "code"
	case containsAny(text, analysisTerms):
		domain = "analysis"
	}

	complexity := models.ComplexityModerate
	long := len(req.Request) > longRequestChars
	escalated := containsAny(text, escalationTerms)
	switch {
	case escalated && long:
		complexity = models.ComplexityAdvanced
	case escalated || long:
		complexity = models.ComplexityComplex
	case len(req.Request) < shortRequestChars:
		complexity = models.ComplexitySimple
	}

	quality := containsAny(text, qualityTerms)

	s := executionStrategy{
		characteristics: models.TaskCharacteristics{
			Type:            domain,
			Complexity:      complexity,
			Domain:          domain,
			EstimatedTokens: int64(len(req.Request) * 3),
			QualityPriority: quality,
		},
	}

	s.usePlanning = complexity == models.ComplexityComplex && long ||
		complexity == models.ComplexityAdvanced
	s.useChaining = !s.usePlanning &&
		complexity == models.ComplexityComplex &&
		(domain == "code" || domain == "analysis")
	s.useReflection = quality || complexity == models.ComplexityAdvanced

	if req.Hints != nil {
		if req.Hints.Planning != nil {
			s.usePlanning = *req.Hints.Planning
		}
		if req.Hints.Chaining != nil {
			s.useChaining = *req.Hints.Chaining
		}
		if req.Hints.Reflection != nil {
			s.useReflection = *req.Hints.Reflection
		}
	}
	return s
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
