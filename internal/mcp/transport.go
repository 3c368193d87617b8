package mcp

import "context"

// responseQueueSize bounds the per-transport queue of parsed responses.
// A server that floods responses faster than the client drains them will
// block its reader goroutine rather than grow memory without bound.
const responseQueueSize = 64

// Transport is the interface for MCP server communication. Implementations
// handle framing and delivery over a specific channel (subprocess pipes or
// HTTP/SSE); request/response correlation is the Client's job.
//
// A single background reader per transport parses inbound messages and
// feeds the queue drained by TryReceive.
type Transport interface {
	// SendRequest writes a JSON-RPC request. The eventual response is
	// delivered through TryReceive, not returned here.
	SendRequest(ctx context.Context, req *Request) error

	// SendNotification writes a JSON-RPC notification (no response expected).
	SendNotification(ctx context.Context, notif *Notification) error

	// TryReceive drains one already-parsed response if available. It never
	// blocks: the second return is false when nothing has arrived.
	TryReceive() (*Response, bool)

	// Connected reports whether the underlying channel is still live.
	// For the process transport this flips false when stdout reaches EOF;
	// for the stream transport when the SSE stream errors or closes.
	Connected() bool

	// Close shuts down the transport and releases resources. For process
	// transports this terminates the subprocess. Safe to call more than
	// once and concurrently with in-flight waits.
	Close() error
}
