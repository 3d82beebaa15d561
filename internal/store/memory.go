// Package store — in-memory Store implementation.
// Used for local development and tests; all state is lost on restart.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
)

// defaultHistorySize bounds the per-user routing history rings.
const defaultHistorySize = 100

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	chains      map[string]*models.ChainDefinition
	executions  map[string]*models.ChainExecution
	providers   map[string]*models.ProviderCapabilities
	rules       map[string]*models.RoutingRule
	plans       map[string]*models.ExecutionPlan
	reflections map[string]*models.ReflectionSession
	sessions    map[string]*models.AgenticSession

	// Per-user bounded rings, newest last.
	decisions map[string][]models.RoutingDecision
	outcomes  map[string][]models.RoutingOutcome

	historySize int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains:      make(map[string]*models.ChainDefinition),
		executions:  make(map[string]*models.ChainExecution),
		providers:   make(map[string]*models.ProviderCapabilities),
		rules:       make(map[string]*models.RoutingRule),
		plans:       make(map[string]*models.ExecutionPlan),
		reflections: make(map[string]*models.ReflectionSession),
		sessions:    make(map[string]*models.AgenticSession),
		decisions:   make(map[string][]models.RoutingDecision),
		outcomes:    make(map[string][]models.RoutingOutcome),
		historySize: defaultHistorySize,
	}
}

// NewMemoryStoreWithHistory creates an in-memory store with a custom
// per-user routing history ring size. Non-positive sizes keep the default.
func NewMemoryStoreWithHistory(n int) *MemoryStore {
	m := NewMemoryStore()
	if n > 0 {
		m.historySize = n
	}
	return m
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// ── Chain Definitions ───────────────────────────────────────

func (m *MemoryStore) ListChains(_ context.Context) ([]models.ChainDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ChainDefinition, 0, len(m.chains))
	for _, c := range m.chains {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetChain(_ context.Context, id string) (*models.ChainDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chains[id]
	if !ok {
		return nil, &contracts.NotFoundError{Entity: "chain", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateChain(_ context.Context, def *models.ChainDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *def
	m.chains[def.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateChain(_ context.Context, def *models.ChainDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chains[def.ID]; !ok {
		return &contracts.NotFoundError{Entity: "chain", Key: def.ID}
	}
	cp := *def
	m.chains[def.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteChain(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chains[id]; !ok {
		return &contracts.NotFoundError{Entity: "chain", Key: id}
	}
	delete(m.chains, id)
	return nil
}

// ── Chain Executions ────────────────────────────────────────

func (m *MemoryStore) GetExecution(_ context.Context, id string) (*models.ChainExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[id]
	if !ok {
		return nil, &contracts.NotFoundError{Entity: "execution", Key: id}
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) CreateExecution(_ context.Context, exec *models.ChainExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *exec
	m.executions[exec.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateExecution(_ context.Context, exec *models.ChainExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[exec.ID]; !ok {
		return &contracts.NotFoundError{Entity: "execution", Key: exec.ID}
	}
	cp := *exec
	m.executions[exec.ID] = &cp
	return nil
}

func (m *MemoryStore) ListExecutions(_ context.Context, ownerID string, limit int) ([]models.ChainExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ChainExecution
	for _, e := range m.executions {
		if ownerID != "" && e.OwnerID != ownerID {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Providers ───────────────────────────────────────────────

func (m *MemoryStore) ListProviders(_ context.Context) ([]models.ProviderCapabilities, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ProviderCapabilities, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetProvider(_ context.Context, id string) (*models.ProviderCapabilities, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[id]
	if !ok {
		return nil, &contracts.NotFoundError{Entity: "provider", Key: id}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CreateProvider(_ context.Context, provider *models.ProviderCapabilities) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *provider
	m.providers[provider.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateProvider(_ context.Context, provider *models.ProviderCapabilities) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[provider.ID]; !ok {
		return &contracts.NotFoundError{Entity: "provider", Key: provider.ID}
	}
	cp := *provider
	m.providers[provider.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteProvider(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[id]; !ok {
		return &contracts.NotFoundError{Entity: "provider", Key: id}
	}
	delete(m.providers, id)
	return nil
}

// ── Routing Rules ───────────────────────────────────────────

func (m *MemoryStore) ListRules(_ context.Context) ([]models.RoutingRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.RoutingRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	// Ascending priority; stable secondary order by id for determinism.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) GetRule(_ context.Context, id string) (*models.RoutingRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, &contracts.NotFoundError{Entity: "routing rule", Key: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateRule(_ context.Context, rule *models.RoutingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRule(_ context.Context, rule *models.RoutingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[rule.ID]; !ok {
		return &contracts.NotFoundError{Entity: "routing rule", Key: rule.ID}
	}
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return &contracts.NotFoundError{Entity: "routing rule", Key: id}
	}
	delete(m.rules, id)
	return nil
}

// ── Routing History ─────────────────────────────────────────

func (m *MemoryStore) AppendDecision(_ context.Context, userID string, decision models.RoutingDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := append(m.decisions[userID], decision)
	if len(ring) > m.historySize {
		ring = ring[len(ring)-m.historySize:]
	}
	m.decisions[userID] = ring
	return nil
}

func (m *MemoryStore) ListDecisions(_ context.Context, userID string) ([]models.RoutingDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ring := m.decisions[userID]
	out := make([]models.RoutingDecision, len(ring))
	copy(out, ring)
	return out, nil
}

func (m *MemoryStore) AppendOutcome(_ context.Context, outcome models.RoutingOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := append(m.outcomes[outcome.UserID], outcome)
	if len(ring) > m.historySize {
		ring = ring[len(ring)-m.historySize:]
	}
	m.outcomes[outcome.UserID] = ring
	return nil
}

func (m *MemoryStore) ListOutcomes(_ context.Context, userID, providerID string) ([]models.RoutingOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.RoutingOutcome
	for _, o := range m.outcomes[userID] {
		if providerID != "" && o.Provider != providerID {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// ── Plans ───────────────────────────────────────────────────

func (m *MemoryStore) GetPlan(_ context.Context, id string) (*models.ExecutionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, &contracts.NotFoundError{Entity: "plan", Key: id}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CreatePlan(_ context.Context, plan *models.ExecutionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *plan
	m.plans[plan.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdatePlan(_ context.Context, plan *models.ExecutionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[plan.ID]; !ok {
		return &contracts.NotFoundError{Entity: "plan", Key: plan.ID}
	}
	cp := *plan
	m.plans[plan.ID] = &cp
	return nil
}

func (m *MemoryStore) ListPlans(_ context.Context, ownerID string, limit int) ([]models.ExecutionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ExecutionPlan
	for _, p := range m.plans {
		if ownerID != "" && p.OwnerID != ownerID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Reflection Sessions ─────────────────────────────────────

func (m *MemoryStore) GetReflectionSession(_ context.Context, id string) (*models.ReflectionSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.reflections[id]
	if !ok {
		return nil, &contracts.NotFoundError{Entity: "reflection session", Key: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateReflectionSession(_ context.Context, session *models.ReflectionSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *session
	m.reflections[session.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateReflectionSession(_ context.Context, session *models.ReflectionSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reflections[session.ID]; !ok {
		return &contracts.NotFoundError{Entity: "reflection session", Key: session.ID}
	}
	cp := *session
	m.reflections[session.ID] = &cp
	return nil
}

// ── Agentic Sessions ────────────────────────────────────────

func (m *MemoryStore) GetAgenticSession(_ context.Context, id string) (*models.AgenticSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, &contracts.NotFoundError{Entity: "agentic session", Key: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateAgenticSession(_ context.Context, session *models.AgenticSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateAgenticSession(_ context.Context, session *models.AgenticSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; !ok {
		return &contracts.NotFoundError{Entity: "agentic session", Key: session.ID}
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}
