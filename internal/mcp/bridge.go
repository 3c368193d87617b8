package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/brindle/mcprelay/internal/tools"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// BridgeTools discovers tools from an MCP client and registers them on the
// given tool registry. Tools keep their bare MCP names unless the server
// config asks for namespacing (mcp_<server>_<tool>).
//
// The include and exclude lists control which MCP tools are bridged:
//   - If include is non-empty, only tools whose MCP names appear in it are registered.
//   - If exclude is non-empty, tools whose MCP names appear in it are skipped.
//   - If both are empty, all tools are registered.
//
// Each tool's inputSchema is resolved once at registration; calls with
// arguments the schema rejects fail locally without a round-trip.
//
// BridgeTools returns the registered registry names, which the manager
// records on the server's handle.
func BridgeTools(ctx context.Context, client *Client, serverName string, registry *tools.Registry, cfg ServerConfig, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defs, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", serverName, err)
	}

	includeSet := toSet(cfg.IncludeTools)
	excludeSet := toSet(cfg.ExcludeTools)

	var registered []string
	for _, td := range defs {
		if len(includeSet) > 0 {
			if !includeSet[td.Name] {
				continue
			}
		} else if excludeSet[td.Name] {
			continue
		}

		name := td.Name
		if cfg.Namespaced {
			name = ToolName(serverName, td.Name)
		}

		registry.Register(bridgeTool(client, name, td, logger))
		registered = append(registered, name)

		logger.Debug("bridged MCP tool",
			"mcp_name", td.Name,
			"registry_name", name,
			"server", serverName,
		)
	}

	return registered, nil
}

// ToolName generates a namespaced registry name from an MCP server name and
// tool name. Both components are sanitized to lowercase alphanumerics and
// underscores.
func ToolName(serverName, mcpToolName string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(serverName), sanitize(mcpToolName))
}

// bridgeTool creates a registry tool that proxies calls to an MCP server.
func bridgeTool(client *Client, name string, td ToolDefinition, logger *slog.Logger) *tools.Tool {
	// Capture the original MCP tool name for the call.
	mcpName := td.Name

	resolved := resolveSchema(td.InputSchema)
	if resolved == nil && td.InputSchema != nil {
		logger.Warn("tool inputSchema did not resolve, skipping argument validation",
			"tool", mcpName,
		)
	}

	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  td.InputSchema,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if resolved != nil {
				if args == nil {
					args = map[string]any{}
				}
				if err := resolved.Validate(args); err != nil {
					return "", &ToolExecError{
						Tool:   mcpName,
						Server: client.Name(),
						Detail: fmt.Sprintf("arguments rejected by schema: %v", err),
					}
				}
			}

			start := time.Now()
			blocks, err := client.CallTool(ctx, mcpName, args)
			logger.Debug("MCP tool call",
				"tool", mcpName,
				"server", client.Name(),
				"duration", time.Since(start),
				"ok", err == nil,
			)
			if err != nil {
				return "", err
			}
			return FlattenContent(blocks), nil
		},
	}
}

// resolveSchema compiles a raw inputSchema map for validation. Returns nil
// when the schema is absent or does not compile; bridged calls then skip
// local validation and let the server reject bad arguments.
func resolveSchema(raw map[string]any) *jsonschema.Resolved {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil
	}
	return resolved
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive underscores
// are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = sanitizeRe.ReplaceAllString(s, "_")

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}

// toSet converts a string slice to a set for O(1) lookups.
func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
