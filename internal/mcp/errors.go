package mcp

import (
	"fmt"
	"time"
)

// TimeoutError is returned when no response with a matching id arrives
// before the client's configured deadline. A timeout is terminal for the
// call; the client never retries it.
type TimeoutError struct {
	Method  string
	ID      string
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for response to %s (id %s) after %s", e.Method, e.ID, e.Elapsed)
}

// ToolExecError is returned when a tools/call response is well-formed at the
// JSON-RPC level but the server marked the result itself as failed
// (isError: true). It is distinct from transport and protocol failures so
// callers can tell "the tool ran and failed" from "the call never completed".
type ToolExecError struct {
	Tool   string
	Server string
	Detail string
}

// Error implements the error interface.
func (e *ToolExecError) Error() string {
	return fmt.Sprintf("tool %s on server %s failed: %s", e.Tool, e.Server, e.Detail)
}
