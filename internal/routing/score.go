package routing

import (
	"context"

	"github.com/loomworks/loom/pkg/models"
)

const (
	complexityWeight  = 20.0
	domainBonus       = 15.0
	qualityWeight     = 5.0
	reliabilityWeight = 3.0

	preferredRuleBonus = 25.0
	fallbackRuleBonus  = 10.0

	costBonusMax       = 10.0
	latencyBonusMax    = 10.0
	latencyThresholdMs = 2000

	historySwing = 10.0 // score shift at the extremes of the ±10 band

	lowCreditThreshold = 10.0
)

// scoreProvider computes a candidate's total routing score:
// capability match, then the rule overlay, then the per-user history
// adjustment.
func (e *Engine) scoreProvider(ctx context.Context, p *models.ProviderCapabilities, task models.TaskCharacteristics, user models.UserContext, rules []models.RoutingRule) float64 {
	score := capabilityScore(p, task, user)
	score += ruleOverlay(p.ID, rules)
	score += e.historyAdjustment(ctx, user.UserID, p.ID)
	return score
}

func capabilityScore(p *models.ProviderCapabilities, task models.TaskCharacteristics, user models.UserContext) float64 {
	// Complexity match: inverted distance between the task's demand level
	// and the provider's rating, on the shared 0-10 scale.
	demand := task.Complexity.DemandLevel()
	distance := float64(demand - p.ComplexityRating)
	if distance < 0 {
		distance = -distance
	}
	score := (1 - distance/10) * complexityWeight

	if task.Domain != "" && p.HasDomain(task.Domain) {
		score += domainBonus
	}

	score += p.QualityScore * qualityWeight
	score += p.Reliability * reliabilityWeight

	if costSensitive(user) {
		// Inverse-cost bonus: cheap backends pull ahead for cost-sensitive
		// users, expensive ones gain almost nothing.
		score += costBonusMax / (1 + p.CostPer1KTokens*100)
	}

	if task.LatencySensitive && p.AvgLatencyMs < latencyThresholdMs {
		score += latencyBonusMax * float64(latencyThresholdMs-p.AvgLatencyMs) / latencyThresholdMs
	}

	return score
}

func costSensitive(user models.UserContext) bool {
	return user.Tier == "free" || (user.RemainingCredits > 0 && user.RemainingCredits < lowCreditThreshold)
}

// ruleOverlay sums the flat bonuses of every matched rule mentioning this
// provider. Rules compose additively and never short-circuit.
func ruleOverlay(providerID string, rules []models.RoutingRule) float64 {
	var bonus float64
	for _, rule := range rules {
		for _, id := range rule.PreferredProviders {
			if id == providerID {
				bonus += preferredRuleBonus
			}
		}
		for _, id := range rule.FallbackProviders {
			if id == providerID {
				bonus += fallbackRuleBonus
			}
		}
	}
	return bonus
}

// historyAdjustment shifts the score by up to ±historySwing based on the
// user's past outcomes with this provider. Performance is success rate
// weighted by satisfaction, centered on a neutral 0.5.
func (e *Engine) historyAdjustment(ctx context.Context, userID, providerID string) float64 {
	outcomes, err := e.store.ListOutcomes(ctx, userID, providerID)
	if err != nil || len(outcomes) == 0 {
		return 0
	}

	var successes int
	var satisfaction float64
	for _, o := range outcomes {
		if o.Success {
			successes++
		}
		satisfaction += o.Satisfaction
	}
	successRate := float64(successes) / float64(len(outcomes))
	avgSatisfaction := satisfaction / float64(len(outcomes))

	performance := successRate * avgSatisfaction
	return (performance - 0.5) * 2 * historySwing
}
