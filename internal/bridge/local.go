package bridge

import (
	"context"
	"encoding/json"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
	"github.com/vayux/mcp-intentful-agent/internal/tools"
)

// LocalDialer runs tools in-process. Arguments and results still pass
// through JSON so callers see the same shapes as over a real transport.
type LocalDialer struct {
	tools *tools.Toolset
}

// NewLocalDialer wraps t.
func NewLocalDialer(t *tools.Toolset) *LocalDialer {
	return &LocalDialer{tools: t}
}

// Dial returns a session over the wrapped toolset.
func (d *LocalDialer) Dial(context.Context) (Session, error) {
	defs := d.tools.Definitions()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	return &localSession{tools: d.tools, names: names}, nil
}

type localSession struct {
	tools *tools.Toolset
	names []string
}

func (s *localSession) Tools() []string {
	return s.names
}

func (s *localSession) Invoke(ctx context.Context, name string, args map[string]any) domain.ToolResult {
	return traced(ctx, "local", name, func(ctx context.Context) domain.ToolResult {
		var wireArgs map[string]any
		if raw, err := json.Marshal(args); err == nil {
			_ = json.Unmarshal(raw, &wireArgs)
		}

		r := s.tools.Call(ctx, name, wireArgs)
		raw, err := json.Marshal(r)
		if err != nil {
			return transportFailure(err)
		}
		return decodeText(string(raw))
	})
}

func (s *localSession) Close() error {
	return nil
}
