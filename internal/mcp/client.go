package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brindle/mcprelay/internal/buildinfo"
)

// protocolVersion is the MCP protocol version advertised during initialization.
const protocolVersion = "2024-11-05"

// pollInterval is the yield between TryReceive attempts while awaiting a
// response. Short enough to keep small timeouts meaningful.
const pollInterval = 5 * time.Millisecond

// initializeGrace is the pause after the initialized notification before
// Initialize returns. Some servers acknowledge initialization before they
// are ready to serve tools/list.
const initializeGrace = 100 * time.Millisecond

// ToolDefinition is an MCP tool as returned by tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call response. Text
// blocks carry Text; image blocks carry base64 Data and a MimeType.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// callToolResult is the result payload of a tools/call response.
type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ServerInfo identifies the remote server, as reported during initialization.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities describes what an MCP server supports.
type ServerCapabilities struct {
	Tools *struct{} `json:"tools,omitempty"`
}

// InitializeResult is the handshake outcome. The client retains it for
// later compatibility decisions even though nothing branches on it today.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}

// Client connects to a single MCP server and provides typed access to the
// protocol operations (initialize, tools/list, tools/call). Request ids are
// strings minted from an atomic counter, so they are strictly increasing and
// never reused within a client instance.
type Client struct {
	name      string
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger
	nextID    atomic.Int64

	mu          sync.RWMutex
	initialized bool
	handshake   InitializeResult
	tools       []ToolDefinition
}

// NewClient creates an MCP client for the given server. The transport
// determines how messages are delivered; timeout bounds every call that
// awaits a response.
func NewClient(name string, transport Transport, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		name:      name,
		transport: transport,
		timeout:   timeout,
		logger:    logger.With("mcp_server", name),
	}
}

// Name returns the server name this client is connected to.
func (c *Client) Name() string {
	return c.name
}

// Transport exposes the underlying transport, used by the manager's health
// watcher to probe connectivity.
func (c *Client) Transport() Transport {
	return c.transport
}

// Initialize performs the MCP handshake: an initialize request, then the
// notifications/initialized notification, then a short readiness grace.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "mcprelay",
			"version": buildinfo.Version,
		},
	}

	resp, err := c.call(ctx, methodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.handshake = result
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	if err := c.transport.SendNotification(ctx, NewNotification(methodInitialized, nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}

	// Grace period before the first tools/list.
	select {
	case <-time.After(initializeGrace):
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Handshake returns the server-advertised identity and capabilities from
// the most recent Initialize.
func (c *Client) Handshake() InitializeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handshake
}

// ListTools calls tools/list and returns the available tool definitions.
// Results are cached; subsequent calls return the cached list.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	c.mu.RLock()
	if c.tools != nil {
		defer c.mu.RUnlock()
		return c.tools, nil
	}
	c.mu.RUnlock()

	resp, err := c.call(ctx, methodToolsList, nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()

	c.logger.Info("discovered MCP tools", "count", len(result.Tools))
	return result.Tools, nil
}

// CallTool invokes a tool by name with the given arguments and returns the
// content blocks. A response the server marks with isError: true surfaces
// as a *ToolExecError, distinct from transport and protocol failures.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) ([]ContentBlock, error) {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := c.call(ctx, methodToolsCall, params)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/call result: %w", err)
	}

	if result.IsError {
		return nil, &ToolExecError{
			Tool:   name,
			Server: c.name,
			Detail: FlattenContent(result.Content),
		}
	}

	return result.Content, nil
}

// Close shuts down the client's transport.
func (c *Client) Close() error {
	c.logger.Info("closing MCP client")
	return c.transport.Close()
}

// call sends a request and awaits its correlated response, surfacing
// JSON-RPC errors as *RPCError.
func (c *Client) call(ctx context.Context, method string, params any) (*Response, error) {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	req := NewRequest(id, method, params)

	if err := c.transport.SendRequest(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.await(ctx, method, id)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// await polls the transport until a response carrying id arrives or the
// client's timeout elapses. Responses with other ids are logged and
// discarded — out-of-order delivery is tolerated, not an error. The loop
// yields between polls rather than spinning.
func (c *Client) await(ctx context.Context, method, id string) (*Response, error) {
	start := time.Now()
	deadline := start.Add(c.timeout)

	for {
		if resp, ok := c.transport.TryReceive(); ok {
			if resp.ID == id {
				return resp, nil
			}
			c.logger.Debug("discarding mismatched response",
				"want_id", id,
				"got_id", resp.ID,
			)
			continue
		}

		if time.Now().After(deadline) {
			return nil, &TimeoutError{Method: method, ID: id, Elapsed: time.Since(start)}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// FlattenContent joins content blocks into one string for logging and for
// hosts that consume tool output as plain text. Non-text blocks are
// represented as inline markers.
func FlattenContent(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "image":
			parts = append(parts, fmt.Sprintf("[image %s]", b.MimeType))
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}
