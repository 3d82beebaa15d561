package contracts

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed caller input. Rejected immediately,
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// BackendError reports a failed generation or search call. Retried per
// policy, then surfaced.
type BackendError struct {
	Provider string
	Op       string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// TimeoutError reports an attempt that exceeded its budget. Treated as a
// retryable BackendError variant.
type TimeoutError struct {
	Provider string
	Op       string
	BudgetMs int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out after %dms", e.Provider, e.Op, e.BudgetMs)
}

// CircularDependencyError reports a cycle in a task dependency graph.
// Fatal for the plan, never retried.
type CircularDependencyError struct {
	TaskID string
}

func (e *CircularDependencyError) Error() string {
	if e.TaskID == "" {
		return "circular dependency detected in task graph"
	}
	return "circular dependency detected involving task " + e.TaskID
}

// NotFoundError reports an unknown execution/session/plan/definition id.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found: " + e.Key
}

// NoSuitableProviderError reports that routing constraints eliminated
// every candidate backend.
type NoSuitableProviderError struct {
	Reason string
}

func (e *NoSuitableProviderError) Error() string {
	if e.Reason == "" {
		return "no suitable provider after applying constraints"
	}
	return "no suitable provider: " + e.Reason
}

// Retryable reports whether an error is worth retrying under the step
// retry policy. Backend failures and timeouts are; everything else is not.
func Retryable(err error) bool {
	var be *BackendError
	var te *TimeoutError
	return errors.As(err, &be) || errors.As(err, &te)
}
