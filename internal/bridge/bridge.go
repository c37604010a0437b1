// Package bridge connects the agent to a tool server and normalizes every
// outcome into a domain.ToolResult.
package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

var tracer = otel.Tracer("github.com/vayux/mcp-intentful-agent/internal/bridge")

// Session is an open connection to a tool server. Invoke never fails: errors
// come back as results with OK false.
type Session interface {
	// Tools lists the tool names discovered when the session was opened.
	Tools() []string
	Invoke(ctx context.Context, name string, args map[string]any) domain.ToolResult
	Close() error
}

// Dialer opens a Session and enumerates the available tools before returning it.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// decodeText parses the text a tool answered with. Non-JSON text is kept raw;
// JSON without an "ok" field is treated as a successful payload.
func decodeText(text string) domain.ToolResult {
	var r domain.ToolResult
	if err := json.Unmarshal([]byte(text), &r); err == nil {
		return r
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		return domain.Success(payload)
	}
	return domain.Success(map[string]any{"raw": text})
}

// transportFailure maps an error from the transport itself.
func transportFailure(err error) domain.ToolResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Failure(domain.NewToolError(domain.CodeUpstreamTimeout, "Tool call timed out", nil))
	}
	return domain.Failure(domain.NewToolError(domain.CodeUpstreamError, "Tool call failed", map[string]any{"exception": err.Error()}))
}

// traced runs one invocation inside a span.
func traced(ctx context.Context, transport, name string, fn func(context.Context) domain.ToolResult) domain.ToolResult {
	ctx, span := tracer.Start(ctx, "tool.invoke", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.transport", transport),
	)

	r := fn(ctx)
	span.SetAttributes(attribute.Bool("tool.ok", r.OK))
	if !r.OK && r.Error != nil {
		span.SetAttributes(attribute.String("tool.error_code", string(r.Error.Code)))
		if r.Error.Code != domain.CodeConfirmationRequired {
			span.SetStatus(codes.Error, r.Error.Message)
		}
	}
	return r
}
