// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// ErrSessionNotFound is returned when deleting a session that does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Repository defines the interface for persisting chat sessions.
type Repository interface {
	// GetSession retrieves a session. It returns nil, nil when none exists.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// UpsertSession creates or replaces a session.
	UpsertSession(ctx context.Context, session *domain.ChatSession) error

	// DeleteSession removes a session, returning ErrSessionNotFound if absent.
	DeleteSession(ctx context.Context, sessionID string) error

	// ListSessions returns a summary of every stored session.
	ListSessions(ctx context.Context) ([]domain.SessionSummary, error)

	// CleanupExpiredSessions removes sessions not updated within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
