// Package store provides the storage interface and implementations for the
// Loom orchestration engine.
//
// All engine code depends on the Store interface, making it easy to swap
// between in-memory (OSS, tests) and persistent implementations. The
// in-memory store is the reference implementation: process restart loses
// in-flight executions, which is an accepted limitation of the hosted tier.
package store

import (
	"context"

	"github.com/loomworks/loom/pkg/models"
)

// Store is the primary storage interface for the orchestration engine.
type Store interface {
	ChainDefinitionStore
	ChainExecutionStore
	ProviderStore
	RoutingRuleStore
	RoutingHistoryStore
	PlanStore
	ReflectionSessionStore
	AgenticSessionStore

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Chain Definition Store ──────────────────────────────────

type ChainDefinitionStore interface {
	ListChains(ctx context.Context) ([]models.ChainDefinition, error)
	GetChain(ctx context.Context, id string) (*models.ChainDefinition, error)
	CreateChain(ctx context.Context, def *models.ChainDefinition) error
	UpdateChain(ctx context.Context, def *models.ChainDefinition) error
	DeleteChain(ctx context.Context, id string) error
}

// ── Chain Execution Store ───────────────────────────────────

type ChainExecutionStore interface {
	GetExecution(ctx context.Context, id string) (*models.ChainExecution, error)
	CreateExecution(ctx context.Context, exec *models.ChainExecution) error
	UpdateExecution(ctx context.Context, exec *models.ChainExecution) error
	ListExecutions(ctx context.Context, ownerID string, limit int) ([]models.ChainExecution, error)
}

// ── Provider Store ──────────────────────────────────────────

type ProviderStore interface {
	ListProviders(ctx context.Context) ([]models.ProviderCapabilities, error)
	GetProvider(ctx context.Context, id string) (*models.ProviderCapabilities, error)
	CreateProvider(ctx context.Context, provider *models.ProviderCapabilities) error
	UpdateProvider(ctx context.Context, provider *models.ProviderCapabilities) error
	DeleteProvider(ctx context.Context, id string) error
}

// ── Routing Rule Store ──────────────────────────────────────

type RoutingRuleStore interface {
	// ListRules returns all rules sorted by ascending priority.
	ListRules(ctx context.Context) ([]models.RoutingRule, error)
	GetRule(ctx context.Context, id string) (*models.RoutingRule, error)
	CreateRule(ctx context.Context, rule *models.RoutingRule) error
	UpdateRule(ctx context.Context, rule *models.RoutingRule) error
	DeleteRule(ctx context.Context, id string) error
}

// ── Routing History Store ───────────────────────────────────

// RoutingHistoryStore keeps a bounded per-user ring of routing decisions
// and observed outcomes for the history adjustment.
type RoutingHistoryStore interface {
	AppendDecision(ctx context.Context, userID string, decision models.RoutingDecision) error
	ListDecisions(ctx context.Context, userID string) ([]models.RoutingDecision, error)
	AppendOutcome(ctx context.Context, outcome models.RoutingOutcome) error
	ListOutcomes(ctx context.Context, userID, providerID string) ([]models.RoutingOutcome, error)
}

// ── Plan Store ──────────────────────────────────────────────

type PlanStore interface {
	GetPlan(ctx context.Context, id string) (*models.ExecutionPlan, error)
	CreatePlan(ctx context.Context, plan *models.ExecutionPlan) error
	UpdatePlan(ctx context.Context, plan *models.ExecutionPlan) error
	ListPlans(ctx context.Context, ownerID string, limit int) ([]models.ExecutionPlan, error)
}

// ── Reflection Session Store ────────────────────────────────

type ReflectionSessionStore interface {
	GetReflectionSession(ctx context.Context, id string) (*models.ReflectionSession, error)
	CreateReflectionSession(ctx context.Context, session *models.ReflectionSession) error
	UpdateReflectionSession(ctx context.Context, session *models.ReflectionSession) error
}

// ── Agentic Session Store ───────────────────────────────────

type AgenticSessionStore interface {
	GetAgenticSession(ctx context.Context, id string) (*models.AgenticSession, error)
	CreateAgenticSession(ctx context.Context, session *models.AgenticSession) error
	UpdateAgenticSession(ctx context.Context, session *models.AgenticSession) error
}
