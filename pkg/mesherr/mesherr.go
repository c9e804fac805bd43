// Package mesherr defines the runtime's error taxonomy as sentinel-wrapped
// kinds rather than a hierarchy of concrete types, per the error handling
// design: ToolUnavailable, ToolCallFailed, InvalidArgument, RegistrationFailed.
package mesherr

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is-style branching without type switches.
var (
	ErrToolUnavailable   = errors.New("mesh: tool unavailable")
	ErrToolCallFailed    = errors.New("mesh: tool call failed")
	ErrInvalidArgument   = errors.New("mesh: invalid argument")
	ErrRegistrationFailed = errors.New("mesh: registration failed")
)

// ToolUnavailable means a declared dependency or LLM provider has no active
// endpoint. Raised to user code only when user code dereferences the proxy;
// surfaced to the LLM loop as a structured JSON error, never thrown from it.
type ToolUnavailable struct {
	Capability string
}

func (e *ToolUnavailable) Error() string {
	return fmt.Sprintf("tool unavailable: capability %q has no active endpoint", e.Capability)
}

func (e *ToolUnavailable) Unwrap() error { return ErrToolUnavailable }

// ToolCallFailed means the upstream peer returned a JSON-RPC error, a
// non-2xx status, a malformed body, or the connection broke.
type ToolCallFailed struct {
	Tool    string
	Message string
}

func (e *ToolCallFailed) Error() string {
	return fmt.Sprintf("tool call failed: %s: %s", e.Tool, e.Message)
}

func (e *ToolCallFailed) Unwrap() error { return ErrToolCallFailed }

// InvalidArgument means a required MCP argument was missing or could not be
// converted to its declared type.
type InvalidArgument struct {
	Param   string
	Message string
}

func (e *InvalidArgument) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Param, e.Message)
}

func (e *InvalidArgument) Unwrap() error { return ErrInvalidArgument }

// RegistrationFailed means the registry was unreachable at startup or during
// a heartbeat. Never fatal: the agent continues in standalone mode.
type RegistrationFailed struct {
	Reason string
}

func (e *RegistrationFailed) Error() string {
	return fmt.Sprintf("registration failed: %s", e.Reason)
}

func (e *RegistrationFailed) Unwrap() error { return ErrRegistrationFailed }

// AsJSON renders an error into the structured shape the LLM agentic loop
// feeds back to the model as a tool-role message, per §4.6/§4.7: never a Go
// panic or bare string, always {"error": {"type", "tool", "message"}}.
func AsJSON(toolName string, err error) map[string]any {
	kind := "tool_call_failed"
	message := err.Error()

	var unavailable *ToolUnavailable
	var callFailed *ToolCallFailed
	var invalidArg *InvalidArgument

	switch {
	case errors.As(err, &unavailable):
		kind = "tool_unavailable"
	case errors.As(err, &callFailed):
		kind = "tool_call_failed"
	case errors.As(err, &invalidArg):
		kind = "invalid_argument"
	}

	return map[string]any{
		"error": map[string]any{
			"type":    kind,
			"tool":    toolName,
			"message": message,
		},
	}
}
