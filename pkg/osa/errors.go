package osa

import (
	"errors"
	"fmt"
)

// Sentinel errors for the Core Runtime's error taxonomy. Callers use
// errors.Is/errors.As against these, never string comparison.
var (
	ErrBusy               = errors.New("session busy: a request is already active")
	ErrCancelled          = errors.New("cancelled")
	ErrMaxIterations      = errors.New("max iterations exceeded")
	ErrDoomLoop           = errors.New("stalled: repeated tool call set with no progress")
	ErrBudgetExceeded     = errors.New("budget exceeded")
	ErrNoiseFiltered      = errors.New("message filtered as noise")
	ErrToolNotFound       = errors.New("tool not found")
	ErrToolPermissionDenied = errors.New("tool permission denied")
	ErrSchemaViolation    = errors.New("tool arguments violate schema")
	ErrAuthProvider       = errors.New("provider authentication failed")
	ErrTransientProvider  = errors.New("provider temporarily unavailable")
	ErrDecomposeParseFailure = errors.New("failed to parse decomposition plan")
	ErrSubAgentTimeout    = errors.New("sub-agent timed out")
)

// ToolErrorType categorizes a tool invocation failure for retry logic.
type ToolErrorType string

const (
	ToolErrorNotFound      ToolErrorType = "not_found"
	ToolErrorInvalidInput  ToolErrorType = "invalid_input"
	ToolErrorTimeout       ToolErrorType = "timeout"
	ToolErrorNetwork       ToolErrorType = "network"
	ToolErrorPermission    ToolErrorType = "permission"
	ToolErrorExecution     ToolErrorType = "execution"
	ToolErrorPanic         ToolErrorType = "panic"
	ToolErrorUnknown       ToolErrorType = "unknown"
)

// Retryable reports whether this error type is worth retrying.
func (t ToolErrorType) Retryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork:
		return true
	default:
		return false
	}
}

// ToolError is the structured error surfaced by tool execution. It wraps
// Cause so errors.Is/errors.As keep working through it.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Attempts   int
}

func (e *ToolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tool %q: %s", e.ToolName, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("tool %q: %v", e.ToolName, e.Cause)
	}
	return fmt.Sprintf("tool %q: %s", e.ToolName, e.Type)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// IsToolRetryable reports whether err (a *ToolError or anything wrapping
// one) should be retried.
func IsToolRetryable(err error) bool {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Type.Retryable()
	}
	return false
}
