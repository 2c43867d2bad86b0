package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// ErrEmptyResponse means the external data source returned nothing
	// meaningful (nil, or an empty mapping/series).
	ErrEmptyResponse = fmt.Errorf("empty response from data provider")
	// ErrRateLimited is the only retryable data-provider failure.
	ErrRateLimited = fmt.Errorf("rate limit exceeded")
	// ErrProvider covers non-retryable data-provider failures; calls are
	// logged and abandoned.
	ErrProvider = fmt.Errorf("provider error")

	ErrToolNotFound = fmt.Errorf("tool not found")
	// ErrToolBudget marks the cumulative tool-call cap of a run. The agent
	// routes to graceful termination instead of returning it, but callers
	// inspecting run logs can match on it.
	ErrToolBudget   = fmt.Errorf("tool call budget exhausted")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrAuditWrite   = fmt.Errorf("audit log write failed")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")

	// ErrAuthInvalid and ErrContextOverflow classify LLM API failures.
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrLLMUnavailable  = fmt.Errorf("llm backend unavailable")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Tool.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient LLM error that may
// succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrLLMUnavailable)
}
