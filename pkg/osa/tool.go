package osa

import (
	"context"
	"encoding/json"
)

// ToolDefinition describes a tool as exposed to the Tool Registry and, via
// AsLLMTool, to a Provider. Names are unique within a registry;
// registration is idempotent and may replace an existing definition.
type ToolDefinition struct {
	Name                string
	Description         string
	Parameters          json.RawMessage // JSON-Schema draft-07 subset: object/array/string/number/integer/boolean
	RequiresPermission  bool
	Handler             ToolHandler
}

// ToolHandler executes a tool call and returns its result text, or an
// error. Handlers must not panic; the registry recovers panics at its
// boundary and converts them to a synthetic error result, but a handler
// that panics routinely is a bug in that tool.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// LLMTool is the provider-facing shape of a tool definition.
type LLMTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// AsLLMTool projects a ToolDefinition to the shape a Provider expects.
func (t ToolDefinition) AsLLMTool() LLMTool {
	return LLMTool{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// ApprovalDecision is the outcome of an out-of-band permission gate.
type ApprovalDecision string

const (
	ApprovalAllowed ApprovalDecision = "allowed"
	ApprovalDenied  ApprovalDecision = "denied"
	ApprovalPending ApprovalDecision = "pending"
)

// ApprovalScope controls how long an approval remains valid.
type ApprovalScope string

const (
	ApprovalOnce    ApprovalScope = "once"
	ApprovalSession ApprovalScope = "session"
	ApprovalAlways  ApprovalScope = "always"
)

// ApprovalChecker gates execution of tools that declare RequiresPermission.
type ApprovalChecker interface {
	Check(ctx context.Context, sessionID, toolName string, args json.RawMessage) (ApprovalDecision, error)
}
