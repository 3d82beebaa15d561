package routing

import (
	"github.com/expr-lang/expr"
	"github.com/loomworks/loom/pkg/models"
	"github.com/rs/zerolog/log"
)

// matchRules filters the rule set down to those matching the current task
// and user. The input is already sorted by ascending priority (store
// contract), and the output preserves that order.
func matchRules(rules []models.RoutingRule, task models.TaskCharacteristics, user models.UserContext) []models.RoutingRule {
	matched := make([]models.RoutingRule, 0, len(rules))
	for _, rule := range rules {
		if ruleMatches(rule, task, user) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// ruleMatches checks a rule's conditions. Zero-valued condition fields
// match anything; all set fields must match.
func ruleMatches(rule models.RoutingRule, task models.TaskCharacteristics, user models.UserContext) bool {
	c := rule.Conditions
	if c.TaskType != "" && c.TaskType != task.Type {
		return false
	}
	if c.Complexity != "" && c.Complexity != task.Complexity {
		return false
	}
	if c.Domain != "" && c.Domain != task.Domain {
		return false
	}
	if c.UserTier != "" && c.UserTier != user.Tier {
		return false
	}
	if c.MaxCredits > 0 && user.RemainingCredits >= c.MaxCredits {
		return false
	}
	if c.Expression != "" && !evalRuleExpression(rule.ID, c.Expression, task, user) {
		return false
	}
	return true
}

// evalRuleExpression evaluates an optional expr condition against the task
// and user. A rule whose expression fails to compile or run simply does
// not match; the error is logged once per evaluation.
func evalRuleExpression(ruleID, expression string, task models.TaskCharacteristics, user models.UserContext) bool {
	env := map[string]interface{}{
		"task": map[string]interface{}{
			"type":              task.Type,
			"complexity":        string(task.Complexity),
			"domain":            task.Domain,
			"estimated_tokens":  task.EstimatedTokens,
			"latency_sensitive": task.LatencySensitive,
			"quality_priority":  task.QualityPriority,
		},
		"user": map[string]interface{}{
			"id":                user.UserID,
			"tier":              user.Tier,
			"remaining_credits": user.RemainingCredits,
		},
	}

	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		log.Warn().Err(err).Str("rule_id", ruleID).Msg("Routing rule expression failed to compile")
		return false
	}
	result, err := expr.Run(program, env)
	if err != nil {
		log.Warn().Err(err).Str("rule_id", ruleID).Msg("Routing rule expression failed to evaluate")
		return false
	}
	ok, _ := result.(bool)
	return ok
}
