package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// ServerName identifies the tool server to MCP clients.
const ServerName = "orders-mcp"

// NewMCPServer exposes every tool of t over MCP. Each call answers with a
// single text block holding the JSON ToolResult.
func NewMCPServer(t *Toolset, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	for _, def := range t.Definitions() {
		name := def.Name
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return textResult(domain.Failure(domain.NewToolError(domain.CodeValidationFailed,
						"Arguments must be a JSON object", map[string]any{"reason": err.Error()})))
				}
			}
			return textResult(t.Call(ctx, name, args))
		})
	}
	return server
}

// ServeStdio runs server over stdin/stdout until the client disconnects or ctx ends.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("serve mcp over stdio: %w", err)
	}
	return nil
}

func textResult(r domain.ToolResult) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil
}
