package agent

import (
	"context"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// Processor defines the chat operations the HTTP layer depends on.
type Processor interface {
	// Chat runs one turn for the request's session, creating the session if needed.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Sessions lists stored sessions.
	Sessions(ctx context.Context) ([]domain.SessionSummary, error)

	// ResetSession deletes a session. It returns store.ErrSessionNotFound if absent.
	ResetSession(ctx context.Context, sessionID string) error
}

// Ensure Service implements Processor.
var _ Processor = (*Service)(nil)
