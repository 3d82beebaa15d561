// Package contracts defines the collaborator interfaces the orchestration
// engine consumes and the error taxonomy it surfaces.
//
// The engines depend on these interfaces, never on concrete clients, so the
// wiring code (pkg/server) can swap HTTP-backed implementations for fakes in
// tests or for enhanced implementations in the hosted product.
package contracts

import (
	"context"
	"time"
)

// ── Generation Backend ──────────────────────────────────────

// GenerationResult is the output of a single generation call.
type GenerationResult struct {
	Text         string  `json:"text"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TokensUsed   int64   `json:"tokens_used"`
	CostUSD      float64 `json:"cost_usd"`
	Provider     string  `json:"provider"`
	LatencyMs    int64   `json:"latency_ms"`
}

// GenerationClient produces text from a prompt using a named backend.
// Implementations live in internal/backend; the provider id selects the
// driver (openai-compatible, anthropic, ollama, ...).
type GenerationClient interface {
	Generate(ctx context.Context, prompt, providerID string) (*GenerationResult, error)
}

// ── Web-Search Backend ──────────────────────────────────────

// SearchHit is one result from the web-search backend.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResult is the response of a search call.
type SearchResult struct {
	Answer  string      `json:"answer,omitempty"`
	Results []SearchHit `json:"results"`
}

// SearchClient answers free-text queries against a web-search backend.
type SearchClient interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
}

// ── Learning / Memory Sink ──────────────────────────────────

// LearningSink records orchestration artifacts for the project-memory
// collaborator. Best effort: implementations swallow and log errors,
// callers never fail because a record could not be written.
type LearningSink interface {
	Record(ctx context.Context, scopeID, kind string, payload interface{}, metadata map[string]string)
}

// NopSink is a LearningSink that discards everything.
type NopSink struct{}

// Record implements LearningSink.
func (NopSink) Record(context.Context, string, string, interface{}, map[string]string) {}

// ── Clock ───────────────────────────────────────────────────

// Sleeper abstracts backoff delays so tests can run without waiting.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext waits for d or until ctx is canceled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
