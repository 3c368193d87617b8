// Package tools provides the tool registry and execution framework.
//
// This file defines sentinel error types for tool execution.
package tools

import "fmt"

// ErrToolUnavailable is returned when a tool call targets a tool that is
// not present in the registry. This indicates a capability mismatch
// (never bridged, filtered out, or since evicted), not a transient
// execution failure. Callers should not retry.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
