package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

const clientName = "agent-service"

// TransportFactory builds a fresh MCP transport for each session.
type TransportFactory func(ctx context.Context) (mcp.Transport, error)

// MCPDialer opens MCP client sessions.
type MCPDialer struct {
	newTransport TransportFactory
	version      string
	logger       *slog.Logger
}

// NewCommandDialer spawns command as a subprocess per session and speaks MCP
// over its stdin/stdout. env is added to the current environment.
func NewCommandDialer(command string, args, env []string, logger *slog.Logger) *MCPDialer {
	return NewMCPDialer(func(context.Context) (mcp.Transport, error) {
		// #nosec G204 -- command comes from service configuration
		cmd := exec.Command(command, args...)
		cmd.Env = append(os.Environ(), env...)
		cmd.Stderr = os.Stderr
		return &mcp.CommandTransport{Command: cmd}, nil
	}, logger)
}

// NewMCPDialer uses newTransport for every session.
func NewMCPDialer(newTransport TransportFactory, logger *slog.Logger) *MCPDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPDialer{newTransport: newTransport, version: "dev", logger: logger}
}

// Dial connects and lists the server's tools.
func (d *MCPDialer) Dial(ctx context.Context) (Session, error) {
	transport, err := d.newTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("build mcp transport: %w", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: d.version}, nil)
	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to tool server: %w", err)
	}

	var names []string
	for tool, err := range cs.Tools(ctx, nil) {
		if err != nil {
			if closeErr := cs.Close(); closeErr != nil {
				d.logger.Warn("failed to close mcp session after list failure", "error", closeErr)
			}
			return nil, fmt.Errorf("list tools: %w", err)
		}
		names = append(names, tool.Name)
	}
	d.logger.Debug("mcp session opened", "tools", names)

	return &mcpSession{cs: cs, tools: names}, nil
}

type mcpSession struct {
	cs    *mcp.ClientSession
	tools []string
}

func (s *mcpSession) Tools() []string {
	return s.tools
}

func (s *mcpSession) Invoke(ctx context.Context, name string, args map[string]any) domain.ToolResult {
	return traced(ctx, "mcp", name, func(ctx context.Context) domain.ToolResult {
		if args == nil {
			args = map[string]any{}
		}
		res, err := s.cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			return transportFailure(err)
		}
		return decodeCallResult(res)
	})
}

func (s *mcpSession) Close() error {
	return s.cs.Close()
}

// decodeCallResult reads the first text block. A call without content
// counts as completed.
func decodeCallResult(res *mcp.CallToolResult) domain.ToolResult {
	for _, c := range res.Content {
		tc, ok := c.(*mcp.TextContent)
		if !ok {
			continue
		}
		r := decodeText(tc.Text)
		if res.IsError && r.OK {
			return domain.Failure(domain.NewToolError(domain.CodeUpstreamError, tc.Text, nil))
		}
		return r
	}
	if res.IsError {
		return domain.Failure(domain.NewToolError(domain.CodeUpstreamError, "Tool reported an error", nil))
	}
	return domain.Completed()
}
