package orchestrator

import (
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

// costTracker accumulates per-user spend broken down by provider and
// orchestration pattern. Monthly periods; a period rollover starts a
// fresh summary.
type costTracker struct {
	mu        sync.Mutex
	summaries map[string]*models.CostSummary
}

func newCostTracker() *costTracker {
	return &costTracker{summaries: make(map[string]*models.CostSummary)}
}

func currentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}

func (c *costTracker) track(userID, provider, pattern string, usage models.TokenUsage) {
	if userID == "" || usage.CostUSD == 0 && usage.TotalTokens == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	period := currentPeriod()
	s, ok := c.summaries[userID]
	if !ok || s.Period != period {
		s = &models.CostSummary{
			Period:     period,
			ByProvider: make(map[string]float64),
			ByPattern:  make(map[string]float64),
		}
		c.summaries[userID] = s
	}

	s.TotalCostUSD += usage.CostUSD
	s.TotalTokens += usage.TotalTokens
	if provider != "" {
		s.ByProvider[provider] += usage.CostUSD
	}
	if pattern != "" {
		s.ByPattern[pattern] += usage.CostUSD
	}
}

// summary returns a copy of the user's current-period spend.
func (c *costTracker) summary(userID string) *models.CostSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.summaries[userID]
	if !ok || s.Period != currentPeriod() {
		return &models.CostSummary{
			Period:     currentPeriod(),
			ByProvider: map[string]float64{},
			ByPattern:  map[string]float64{},
		}
	}

	out := &models.CostSummary{
		Period:       s.Period,
		TotalCostUSD: s.TotalCostUSD,
		TotalTokens:  s.TotalTokens,
		ByProvider:   make(map[string]float64, len(s.ByProvider)),
		ByPattern:    make(map[string]float64, len(s.ByPattern)),
	}
	for k, v := range s.ByProvider {
		out.ByProvider[k] = v
	}
	for k, v := range s.ByPattern {
		out.ByPattern[k] = v
	}
	return out
}
