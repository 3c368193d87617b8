// Package mcp implements the MCP (Model Context Protocol) client runtime:
// connecting to external MCP servers, discovering their tools, and exposing
// those tools to the host application through its tool registry.
//
// MCP uses JSON-RPC 2.0 over two transports: a spawned subprocess exchanging
// newline-delimited messages on stdin/stdout, and an HTTP Server-Sent-Events
// stream paired with a POST endpoint the server advertises on connect. Both
// sit behind the Transport interface; a background reader per transport feeds
// parsed responses into a bounded queue that the Client drains while matching
// request ids.
//
// The Manager supervises any number of named clients: it merges server
// configuration from files, directories, and host-provided maps, starts
// servers with a configurable retry/backoff policy, bridges discovered tools
// into the registry, and runs per-server health watchers that evict servers
// whose transports stay disconnected.
//
// This implementation covers the client/host side only — it does not act as
// an MCP server.
package mcp
