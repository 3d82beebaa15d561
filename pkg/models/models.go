// Package models defines the data model for the Loom orchestration engine.
//
// Everything here is JSON-serializable: the HTTP layer encodes these types
// directly, and the in-memory store snapshots them. Execution, session, and
// plan objects are created per request, mutated in place while running, and
// treated as immutable once they reach a terminal status.
package models

import "time"

// ── Token & Cost Accounting ──────────────────────────────────

// TokenUsage accumulates token and cost totals across generation calls.
type TokenUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add merges another usage record into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// CostSummary tracks accumulated spend per tenant, broken down by
// provider and orchestration pattern.
type CostSummary struct {
	Period       string             `json:"period"`
	TotalCostUSD float64            `json:"total_cost_usd"`
	TotalTokens  int64              `json:"total_tokens"`
	ByProvider   map[string]float64 `json:"by_provider"`
	ByPattern    map[string]float64 `json:"by_pattern"`
}

// ── Chain Definitions ────────────────────────────────────────

// ContextStrategy governs how much history a chain retains between steps.
type ContextStrategy string

const (
	// ContextAccumulate keeps the full history log.
	ContextAccumulate ContextStrategy = "accumulate"
	// ContextWindowed keeps only the most recent history entries
	// (variables are always kept).
	ContextWindowed ContextStrategy = "windowed"
	// ContextSelective keeps only a caller-declared subset of variables.
	ContextSelective ContextStrategy = "selective"
)

// StepOutputKind describes what a chain step produces.
type StepOutputKind string

const (
	OutputText     StepOutputKind = "text"
	OutputCode     StepOutputKind = "code"
	OutputAnalysis StepOutputKind = "analysis"
	OutputSearch   StepOutputKind = "search"
)

// RetryPolicy controls per-step retry behavior.
type RetryPolicy struct {
	MaxAttempts   int   `json:"max_attempts"`    // default 3
	BaseBackoffMs int64 `json:"base_backoff_ms"` // delay = base × attempt
}

// StepValidation optionally rejects a step attempt's output.
// A validation failure counts as a retryable attempt failure.
type StepValidation struct {
	MinLength     int      `json:"min_length,omitempty"`
	MaxLength     int      `json:"max_length,omitempty"`
	RequiredTerms []string `json:"required_terms,omitempty"`
	// Rule is an optional expr expression evaluated against
	// {"output": string, "length": int}. It must return a boolean.
	Rule string `json:"rule,omitempty"`
}

// ChainStep is one templated prompt step in a chain.
type ChainStep struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider,omitempty"` // backend hint; empty = routed
	PromptTemplate string          `json:"prompt_template"`
	InputFields    []string        `json:"input_fields,omitempty"`
	OutputKind     StepOutputKind  `json:"output_kind,omitempty"`
	Retry          RetryPolicy     `json:"retry"`
	Validation     *StepValidation `json:"validation,omitempty"`
}

// ChainDefinition is an ordered pipeline of prompt-driven steps.
type ChainDefinition struct {
	ID              string          `json:"id"`
	Name            string          `json:"name,omitempty"`
	Description     string          `json:"description,omitempty"`
	Steps           []ChainStep     `json:"steps"`
	ContextStrategy ContextStrategy `json:"context_strategy"`
	// KeepVariables applies to the selective strategy only.
	KeepVariables  []string  `json:"keep_variables,omitempty"`
	MaxContextSize int       `json:"max_context_size,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ── Chain Executions ─────────────────────────────────────────

// ExecutionStatus is the lifecycle state of a chain execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPaused    ExecutionStatus = "paused"
)

// StepStatus is the state of a single step result slot.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// ChainStepResult records the outcome of one step.
type ChainStepResult struct {
	StepID   string            `json:"step_id"`
	Status   StepStatus        `json:"status"`
	Input    map[string]string `json:"input,omitempty"`
	Output   string            `json:"output,omitempty"`
	Usage    TokenUsage        `json:"usage"`
	Provider string            `json:"provider,omitempty"`
	Error    string            `json:"error,omitempty"`
	Attempts int               `json:"attempts"`
}

// HistoryEntry is one line of the ordered chain context log.
type HistoryEntry struct {
	StepID    string    `json:"step_id"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// ChainContext is the shared state a chain accumulates between steps.
type ChainContext struct {
	Variables map[string]string      `json:"variables"`
	History   []HistoryEntry         `json:"history"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ChainExecution is one run of a chain definition.
//
// Invariants: StepResults has exactly one slot per definition step from
// creation; CurrentStep only advances monotonically while running.
type ChainExecution struct {
	ID          string            `json:"id"`
	ChainID     string            `json:"chain_id"`
	OwnerID     string            `json:"owner_id,omitempty"`
	ScopeID     string            `json:"scope_id,omitempty"`
	Status      ExecutionStatus   `json:"status"`
	CurrentStep int               `json:"current_step"`
	StepResults []ChainStepResult `json:"step_results"`
	Context     ChainContext      `json:"context"`
	Usage       TokenUsage        `json:"usage"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// ── Provider Capabilities ────────────────────────────────────

// ProviderCapabilities describes a generation backend for routing.
type ProviderCapabilities struct {
	ID               string    `json:"id"`
	Name             string    `json:"name,omitempty"`
	Strengths        []string  `json:"strengths,omitempty"`
	Weaknesses       []string  `json:"weaknesses,omitempty"`
	MaxOutputTokens  int       `json:"max_output_tokens"`
	AvgLatencyMs     int64     `json:"avg_latency_ms"`
	CostPer1KTokens  float64   `json:"cost_per_1k_tokens"`
	Reliability      float64   `json:"reliability"`       // 0–1
	ComplexityRating int       `json:"complexity_rating"` // 1–10
	QualityScore     float64   `json:"quality_score"`     // 0–1
	Domains          []string  `json:"domains,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// HasDomain reports whether the provider declares the given task domain.
func (p *ProviderCapabilities) HasDomain(domain string) bool {
	for _, d := range p.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// ── Routing ──────────────────────────────────────────────────

// TaskComplexity buckets a task's difficulty.
type TaskComplexity string

const (
	ComplexitySimple   TaskComplexity = "simple"
	ComplexityModerate TaskComplexity = "moderate"
	ComplexityComplex  TaskComplexity = "complex"
	ComplexityAdvanced TaskComplexity = "advanced"
	ComplexityExtreme  TaskComplexity = "extreme"
)

// DemandLevel converts a complexity bucket to the 0–10 rating scale
// used by ProviderCapabilities.ComplexityRating.
func (c TaskComplexity) DemandLevel() int {
	switch c {
	case ComplexitySimple:
		return 2
	case ComplexityModerate:
		return 4
	case ComplexityComplex:
		return 6
	case ComplexityAdvanced:
		return 8
	case ComplexityExtreme:
		return 10
	default:
		return 5
	}
}

// TaskCharacteristics describes a task for routing purposes.
type TaskCharacteristics struct {
	Type             string         `json:"type,omitempty"`
	Complexity       TaskComplexity `json:"complexity"`
	Domain           string         `json:"domain,omitempty"`
	EstimatedTokens  int64          `json:"estimated_tokens,omitempty"`
	LatencySensitive bool           `json:"latency_sensitive,omitempty"`
	QualityPriority  bool           `json:"quality_priority,omitempty"`
}

// UserContext carries the requesting user's routing-relevant state.
type UserContext struct {
	UserID           string  `json:"user_id"`
	Tier             string  `json:"tier,omitempty"` // "free", "pro", ...
	RemainingCredits float64 `json:"remaining_credits"`
}

// RoutingConstraints filter the candidate provider set.
type RoutingConstraints struct {
	ExcludeProviders []string `json:"exclude_providers,omitempty"`
	RequireProviders []string `json:"require_providers,omitempty"`
	MaxCostUSD       float64  `json:"max_cost_usd,omitempty"`
}

// RuleConditions are the match conditions of a RoutingRule.
// Zero-valued fields match anything.
type RuleConditions struct {
	TaskType   string         `json:"task_type,omitempty"`
	Complexity TaskComplexity `json:"complexity,omitempty"`
	Domain     string         `json:"domain,omitempty"`
	UserTier   string         `json:"user_tier,omitempty"`
	MaxCredits float64        `json:"max_credits,omitempty"` // matches when remaining credits are below this
	// Expression is an optional expr condition evaluated against
	// {"task": TaskCharacteristics, "user": UserContext}.
	Expression string `json:"expression,omitempty"`
}

// RoutingRule overlays a flat score bonus on matching providers.
// Rules are applied in ascending Priority order and compose additively.
type RoutingRule struct {
	ID                 string         `json:"id"`
	Priority           int            `json:"priority"`
	Conditions         RuleConditions `json:"conditions"`
	PreferredProviders []string       `json:"preferred_providers,omitempty"`
	FallbackProviders  []string       `json:"fallback_providers,omitempty"`
	Rationale          string         `json:"rationale,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// ScoredAlternative is a non-selected candidate with its score.
type ScoredAlternative struct {
	Provider string  `json:"provider"`
	Score    float64 `json:"score"`
}

// RoutingDecision is the immutable result of a route call.
type RoutingDecision struct {
	TaskSummary     string              `json:"task_summary,omitempty"`
	Provider        string              `json:"provider"`
	Confidence      float64             `json:"confidence"` // 0–1
	Rationale       string              `json:"rationale"`
	Alternatives    []ScoredAlternative `json:"alternatives,omitempty"`
	EstimatedCost   float64             `json:"estimated_cost_usd"`
	EstimatedTokens int64               `json:"estimated_tokens"`
	RiskFactors     []string            `json:"risk_factors,omitempty"`
	DecidedAt       time.Time           `json:"decided_at"`
}

// RoutingOutcome records how a routed call actually went, feeding the
// per-user history adjustment on future decisions.
type RoutingOutcome struct {
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	Success      bool      `json:"success"`
	Satisfaction float64   `json:"satisfaction"` // 0–1
	RecordedAt   time.Time `json:"recorded_at"`
}

// ── Reflection ───────────────────────────────────────────────

// ReflectionCriteria is one weighted rubric entry.
type ReflectionCriteria struct {
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight"`    // 0–1; weights need not sum to 1
	MinScore    float64 `json:"min_score"` // independent pass threshold
}

// ReflectionResult is one critique against a rubric.
type ReflectionResult struct {
	OverallScore  float64            `json:"overall_score"` // 0–1
	CriteriaScores map[string]float64 `json:"criteria_scores,omitempty"`
	Strengths     []string           `json:"strengths,omitempty"`
	Weaknesses    []string           `json:"weaknesses,omitempty"`
	Suggestions   []string           `json:"suggestions,omitempty"`
	Confidence    float64            `json:"confidence"`
	NeedsRevision bool               `json:"needs_revision"`
}

// ReflectionContext describes what is being reflected on.
type ReflectionContext struct {
	Task          string `json:"task"`
	InitialOutput string `json:"initial_output"`
	OutputKind    string `json:"output_kind,omitempty"` // "code", "analysis", "plan", ...
}

// ReflectionIteration is one critique-and-revise round.
type ReflectionIteration struct {
	Input          string           `json:"input"`
	Result         ReflectionResult `json:"result"`
	RevisedOutput  string           `json:"revised_output,omitempty"`
	Improvement    float64          `json:"improvement"`
	Timestamp      time.Time        `json:"timestamp"`
}

// SessionStatus is the lifecycle state of a reflection session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// ReflectionSession is one full critique-and-revise loop.
type ReflectionSession struct {
	ID               string                `json:"id"`
	OwnerID          string                `json:"owner_id,omitempty"`
	ScopeID          string                `json:"scope_id,omitempty"`
	Context          ReflectionContext     `json:"context"`
	Iterations       []ReflectionIteration `json:"iterations"`
	FinalOutput      string                `json:"final_output,omitempty"`
	TotalImprovement float64               `json:"total_improvement"`
	Status           SessionStatus         `json:"status"`
	Usage            TokenUsage            `json:"usage"`
	StartedAt        time.Time             `json:"started_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}

// ── Planning ─────────────────────────────────────────────────

// GoalPriority ranks a goal's importance.
type GoalPriority string

const (
	PriorityLow      GoalPriority = "low"
	PriorityMedium   GoalPriority = "medium"
	PriorityHigh     GoalPriority = "high"
	PriorityCritical GoalPriority = "critical"
)

// GoalType classifies a goal within a plan.
type GoalType string

const (
	GoalPrimary    GoalType = "primary"
	GoalSecondary  GoalType = "secondary"
	GoalMilestone  GoalType = "milestone"
	GoalConstraint GoalType = "constraint"
)

// Goal is a top-level objective decomposed from a request.
type Goal struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Priority        GoalPriority   `json:"priority"`
	Type            GoalType       `json:"type"`
	Complexity      TaskComplexity `json:"complexity"`
	EstimatedHours  float64        `json:"estimated_hours,omitempty"`
	DependsOn       []string       `json:"depends_on,omitempty"`
	SuccessCriteria []string       `json:"success_criteria,omitempty"`
	RiskFactors     []string       `json:"risk_factors,omitempty"`
}

// TaskType classifies an executable planning unit.
type TaskType string

const (
	TaskAnalysis       TaskType = "analysis"
	TaskDesign         TaskType = "design"
	TaskImplementation TaskType = "implementation"
	TaskTesting        TaskType = "testing"
	TaskReview         TaskType = "review"
	TaskResearch       TaskType = "research"
)

// TaskStatus is the lifecycle state of a plan task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is one executable unit within a plan.
type Task struct {
	ID              string     `json:"id"`
	GoalID          string     `json:"goal_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Type            TaskType   `json:"type"`
	Status          TaskStatus `json:"status"`
	Priority        int        `json:"priority"`
	EstimatedTokens int64      `json:"estimated_tokens,omitempty"`
	EstimatedCost   float64    `json:"estimated_cost_usd,omitempty"`
	Provider        string     `json:"provider,omitempty"` // suggested backend
	ChainID         string     `json:"chain_id,omitempty"` // delegate to chain when set
	DependsOn       []string   `json:"depends_on,omitempty"`
	RequiredInputs  []string   `json:"required_inputs,omitempty"`
	ExpectedOutputs []string   `json:"expected_outputs,omitempty"`
	ValidationCriteria []string `json:"validation_criteria,omitempty"`
	Output          string     `json:"output,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// ExecutionStrategy describes how a plan's tasks relate.
type ExecutionStrategy string

const (
	StrategySequential ExecutionStrategy = "sequential"
	StrategyParallel   ExecutionStrategy = "parallel"
	StrategyHybrid     ExecutionStrategy = "hybrid"
)

// RiskLevel grades a plan's overall risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment summarizes a plan's risks.
type RiskAssessment struct {
	Overall     RiskLevel `json:"overall"`
	MajorRisks  []string  `json:"major_risks,omitempty"`
	Mitigations []string  `json:"mitigations,omitempty"`
}

// PlanStatus is the lifecycle state of an execution plan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanApproved  PlanStatus = "approved"
	PlanExecuting PlanStatus = "executing"
	PlanPaused    PlanStatus = "paused"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// PlanProgress counts task completion.
type PlanProgress struct {
	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`
}

// ExecutionPlan is a full goal/task decomposition of a request.
type ExecutionPlan struct {
	ID             string            `json:"id"`
	Request        string            `json:"request"`
	OwnerID        string            `json:"owner_id,omitempty"`
	Goals          []Goal            `json:"goals"`
	Tasks          []Task            `json:"tasks"`
	ExecutionOrder []string          `json:"execution_order"` // topologically sorted task IDs
	Strategy       ExecutionStrategy `json:"strategy"`
	EstimatedHours float64           `json:"estimated_hours"`
	EstimatedCost  float64           `json:"estimated_cost_usd"`
	Risk           RiskAssessment    `json:"risk"`
	Status         PlanStatus        `json:"status"`
	Progress       PlanProgress      `json:"progress"`
	Usage          TokenUsage        `json:"usage"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// TaskByID returns a pointer to the plan task with the given id, or nil.
func (p *ExecutionPlan) TaskByID(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// ── Agentic Requests ─────────────────────────────────────────

// ExecutionHints let the caller force orchestration mechanisms on or off.
// Nil means "let the strategy selector decide".
type ExecutionHints struct {
	Planning   *bool `json:"planning,omitempty"`
	Chaining   *bool `json:"chaining,omitempty"`
	Reflection *bool `json:"reflection,omitempty"`
}

// AgenticRequest is a single free-text request to the orchestration service.
type AgenticRequest struct {
	UserID    string          `json:"user_id"`
	ProjectID string          `json:"project_id,omitempty"`
	Request   string          `json:"request"`
	Hints     *ExecutionHints `json:"hints,omitempty"`
	User      *UserContext    `json:"user_context,omitempty"`
}

// StepRecord is one provenance entry in an agentic response.
type StepRecord struct {
	Pattern  string     `json:"pattern"` // "routing", "planning", "chaining", "reflection", "generation"
	Detail   string     `json:"detail,omitempty"`
	Provider string     `json:"provider,omitempty"`
	Usage    TokenUsage `json:"usage"`
	DurationMs int64    `json:"duration_ms"`
}

// AgenticResponse is the assembled result of processing a request.
type AgenticResponse struct {
	SessionID     string                 `json:"session_id"`
	Output        string                 `json:"output"`
	ExecutionPath []StepRecord           `json:"execution_path"`
	PatternsUsed  []string               `json:"patterns_used"`
	Usage         TokenUsage             `json:"usage"`
	Confidence    float64                `json:"confidence"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// AgenticSession wraps one request/response pair with its lifecycle.
type AgenticSession struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	ProjectID   string           `json:"project_id,omitempty"`
	Request     AgenticRequest   `json:"request"`
	Response    *AgenticResponse `json:"response,omitempty"`
	Status      SessionStatus    `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}
