package backend

import (
	"context"
	"errors"
	"time"

	"github.com/loomworks/loom/pkg/contracts"
)

// contractsResult keeps driver signatures short.
type contractsResult = contracts.GenerationResult

func wrapBackendErr(provider, op string, err error) error {
	return &contracts.BackendError{Provider: provider, Op: op, Err: err}
}

// classifyTransportErr converts context-deadline failures into TimeoutError
// so the retry policy can distinguish them; everything else is a BackendError.
func classifyTransportErr(ctx context.Context, provider, op string, err error, budget time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &contracts.TimeoutError{Provider: provider, Op: op, BudgetMs: budget.Milliseconds()}
	}
	return &contracts.BackendError{Provider: provider, Op: op, Err: err}
}

// Known cost per 1K tokens (USD). Providers not listed fall back to a
// generic rate so cost totals are never silently zero.
var defaultCosts = map[string]struct{ input, output float64 }{
	"gpt-4o":                    {0.0025, 0.01},
	"gpt-4o-mini":               {0.00015, 0.0006},
	"gpt-4-turbo":               {0.01, 0.03},
	"claude-sonnet-4-20250514":  {0.003, 0.015},
	"claude-3-5-haiku-20241022": {0.001, 0.005},
	"claude-opus-4-20250514":    {0.015, 0.075},
}

func modelCost(model string, inputTokens, outputTokens int64) float64 {
	rates, ok := defaultCosts[model]
	if !ok {
		rates = struct{ input, output float64 }{0.001, 0.001}
	}
	return float64(inputTokens)/1000*rates.input + float64(outputTokens)/1000*rates.output
}
