// Package routing selects a generation backend for a task.
//
// Every known provider is scored against the task's characteristics, the
// tenant's routing rules, and the user's per-provider outcome history; the
// highest-scoring allowed candidate wins. Decisions are immutable and
// logged to a bounded per-user history.
package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	defaultEstimatedTokens = 1000
	reliabilityFloor       = 0.9
	maxAlternatives        = 3
)

// Engine scores providers and produces routing decisions.
type Engine struct {
	store store.Store
}

// NewEngine creates a routing engine backed by the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Route selects a backend for the described task. The free-text
// description feeds the decision's summary and rationale only; scoring
// uses the structured characteristics.
//
// Returns NoSuitableProviderError when the exclude/require constraints
// leave zero candidates.
func (e *Engine) Route(ctx context.Context, description string, task models.TaskCharacteristics, user models.UserContext, constraints *models.RoutingConstraints) (*models.RoutingDecision, error) {
	providers, err := e.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	candidates := filterCandidates(providers, constraints)
	if len(candidates) == 0 {
		return nil, &contracts.NoSuitableProviderError{
			Reason: fmt.Sprintf("no providers remain from a pool of %d after constraints", len(providers)),
		}
	}

	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	matched := matchRules(rules, task, user)

	scored := make([]scoredCandidate, 0, len(candidates))
	for i := range candidates {
		p := &candidates[i]
		s := e.scoreProvider(ctx, p, task, user, matched)
		scored = append(scored, scoredCandidate{provider: p, score: s})
	}

	// Highest score wins; encounter order breaks ties, so a stable sort
	// over the original provider order is required.
	best := 0
	for i := 1; i < len(scored); i++ {
		if scored[i].score > scored[best].score {
			best = i
		}
	}

	selected := scored[best]
	estTokens := task.EstimatedTokens
	if estTokens <= 0 {
		estTokens = defaultEstimatedTokens
	}

	decision := &models.RoutingDecision{
		TaskSummary:     summarize(description),
		Provider:        selected.provider.ID,
		Confidence:      confidence(scored, best),
		Rationale:       rationale(selected, description, task, len(matched)),
		Alternatives:    alternatives(scored, best),
		EstimatedCost:   float64(estTokens) / 1000 * selected.provider.CostPer1KTokens,
		EstimatedTokens: estTokens,
		RiskFactors:     riskFactors(selected.provider, task, user, float64(estTokens)/1000*selected.provider.CostPer1KTokens),
		DecidedAt:       time.Now().UTC(),
	}

	if err := e.store.AppendDecision(ctx, user.UserID, *decision); err != nil {
		log.Warn().Err(err).Str("user_id", user.UserID).Msg("Failed to log routing decision")
	}

	log.Info().
		Str("provider", decision.Provider).
		Float64("confidence", decision.Confidence).
		Str("complexity", string(task.Complexity)).
		Int("matched_rules", len(matched)).
		Msg("Routing decision")

	return decision, nil
}

// RecordOutcome feeds an observed call result back into the per-user
// history used by future routing decisions.
func (e *Engine) RecordOutcome(ctx context.Context, outcome models.RoutingOutcome) error {
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now().UTC()
	}
	return e.store.AppendOutcome(ctx, outcome)
}

// History returns a user's recent routing decisions, newest last.
func (e *Engine) History(ctx context.Context, userID string) ([]models.RoutingDecision, error) {
	return e.store.ListDecisions(ctx, userID)
}

type scoredCandidate struct {
	provider *models.ProviderCapabilities
	score    float64
}

func filterCandidates(providers []models.ProviderCapabilities, constraints *models.RoutingConstraints) []models.ProviderCapabilities {
	if constraints == nil {
		return providers
	}
	excluded := make(map[string]bool, len(constraints.ExcludeProviders))
	for _, id := range constraints.ExcludeProviders {
		excluded[id] = true
	}
	required := make(map[string]bool, len(constraints.RequireProviders))
	for _, id := range constraints.RequireProviders {
		required[id] = true
	}

	out := make([]models.ProviderCapabilities, 0, len(providers))
	for _, p := range providers {
		if excluded[p.ID] {
			continue
		}
		if len(required) > 0 && !required[p.ID] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// confidence reflects how far the winner stands out from the runner-up.
func confidence(scored []scoredCandidate, best int) float64 {
	if len(scored) == 1 {
		return 0.95
	}
	second := -1
	for i := range scored {
		if i == best {
			continue
		}
		if second == -1 || scored[i].score > scored[second].score {
			second = i
		}
	}
	bestScore := scored[best].score
	if bestScore <= 0 {
		return 0.5
	}
	gap := (bestScore - scored[second].score) / bestScore
	if gap < 0 {
		gap = 0
	}
	c := 0.5 + 0.5*gap
	if c > 0.99 {
		c = 0.99
	}
	return c
}

func alternatives(scored []scoredCandidate, best int) []models.ScoredAlternative {
	rest := make([]scoredCandidate, 0, len(scored)-1)
	for i := range scored {
		if i != best {
			rest = append(rest, scored[i])
		}
	}
	// Insertion sort by descending score; the pool is small.
	for i := 1; i < len(rest); i++ {
		for j := i; j > 0 && rest[j].score > rest[j-1].score; j-- {
			rest[j], rest[j-1] = rest[j-1], rest[j]
		}
	}
	if len(rest) > maxAlternatives {
		rest = rest[:maxAlternatives]
	}
	out := make([]models.ScoredAlternative, len(rest))
	for i, c := range rest {
		out[i] = models.ScoredAlternative{Provider: c.provider.ID, Score: c.score}
	}
	return out
}

func rationale(selected scoredCandidate, description string, task models.TaskCharacteristics, matchedRules int) string {
	r := fmt.Sprintf("selected %s (score %.1f) for %s %s task",
		selected.provider.ID, selected.score, task.Complexity, task.Type)
	if task.Domain != "" {
		r += fmt.Sprintf(" in domain %s", task.Domain)
	}
	if s := summarize(description); s != "" {
		r += fmt.Sprintf(" (%q)", s)
	}
	if matchedRules > 0 {
		r += fmt.Sprintf("; %d routing rule(s) applied", matchedRules)
	}
	return r
}

// summarize trims the free-text task description to a log-friendly length.
func summarize(description string) string {
	const maxSummary = 80
	description = strings.TrimSpace(description)
	runes := []rune(description)
	if len(runes) > maxSummary {
		return string(runes[:maxSummary]) + "…"
	}
	return description
}

// riskFactors are advisory only; they never change the selection.
func riskFactors(p *models.ProviderCapabilities, task models.TaskCharacteristics, user models.UserContext, estCost float64) []string {
	var risks []string
	if user.RemainingCredits > 0 && estCost > user.RemainingCredits/2 {
		risks = append(risks, fmt.Sprintf("estimated cost $%.4f consumes over half of remaining credits", estCost))
	}
	if demand := task.Complexity.DemandLevel(); p.ComplexityRating < demand {
		risks = append(risks, fmt.Sprintf("provider complexity rating %d below task demand %d", p.ComplexityRating, demand))
	}
	if p.Reliability < reliabilityFloor {
		risks = append(risks, fmt.Sprintf("provider reliability %.2f below %.2f floor", p.Reliability, reliabilityFloor))
	}
	if task.Domain != "" && !p.HasDomain(task.Domain) {
		risks = append(risks, fmt.Sprintf("provider declares no expertise in domain %q", task.Domain))
	}
	return risks
}
