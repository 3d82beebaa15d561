// Package backend implements HTTP clients for the engine's external
// collaborators: the text-generation backends, the web-search backend,
// and the project-memory learning sink.
//
// Generation backends are pluggable drivers keyed by kind. The built-in
// drivers speak the OpenAI-compatible, Anthropic, and Ollama chat APIs;
// the hosted product registers additional drivers at wiring time.
package backend

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/pkg/contracts"
)

// Driver is a single generation backend integration.
type Driver interface {
	// Kind returns the driver identifier (e.g. "openai", "anthropic").
	Kind() string

	// Generate sends a prompt to the backend and returns text plus
	// token/cost accounting.
	Generate(ctx context.Context, model, prompt string) (*contracts.GenerationResult, error)
}

// Client routes generation calls to registered drivers and implements
// contracts.GenerationClient.
type Client struct {
	mu      sync.RWMutex
	drivers map[string]Driver

	// kinds maps a provider id to a driver kind for explicit bindings.
	kinds map[string]string
}

// NewClient creates a generation client with the built-in drivers.
func NewClient(cfg config.BackendConfig) *Client {
	timeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	c := &Client{
		drivers: make(map[string]Driver),
		kinds:   make(map[string]string),
	}
	c.RegisterDriver(newOpenAIDriver(cfg.OpenAIEndpoint, cfg.OpenAIKey, timeout))
	c.RegisterDriver(newAnthropicDriver(cfg.AnthropicEndpoint, cfg.AnthropicKey, timeout))
	c.RegisterDriver(newOllamaDriver(cfg.OllamaEndpoint, timeout))
	return c
}

// RegisterDriver adds or replaces a driver for its kind.
func (c *Client) RegisterDriver(d Driver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drivers[d.Kind()] = d
}

// Bind pins a provider id to a driver kind, overriding the prefix heuristic.
func (c *Client) Bind(providerID, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds[providerID] = kind
}

// ListDrivers returns the registered driver kinds.
func (c *Client) ListDrivers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]string, 0, len(c.drivers))
	for k := range c.drivers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Generate implements contracts.GenerationClient. The provider id is used
// both as the model name sent to the backend and to pick the driver.
func (c *Client) Generate(ctx context.Context, prompt, providerID string) (*contracts.GenerationResult, error) {
	driver := c.driverFor(providerID)
	if driver == nil {
		return nil, &contracts.BackendError{
			Provider: providerID,
			Op:       "generate",
			Err:      errUnknownProvider,
		}
	}

	result, err := driver.Generate(ctx, providerID, prompt)
	if err != nil {
		return nil, err
	}
	result.Provider = providerID
	return result, nil
}

func (c *Client) driverFor(providerID string) Driver {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if kind, ok := c.kinds[providerID]; ok {
		return c.drivers[kind]
	}

	// Prefix heuristic for the built-in driver kinds.
	switch {
	case strings.HasPrefix(providerID, "claude"):
		return c.drivers["anthropic"]
	case strings.HasPrefix(providerID, "gpt"), strings.HasPrefix(providerID, "o1"),
		strings.HasPrefix(providerID, "o3"):
		return c.drivers["openai"]
	default:
		return c.drivers["ollama"]
	}
}
