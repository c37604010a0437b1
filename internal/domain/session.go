package domain

import (
	"time"
)

// ChatSession stores the conversation state owned by the front door.
type ChatSession struct {
	SessionID string
	History   History
	Messages  []StoredMessage
	// State is the JSON-encoded planner state after the last turn.
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoredMessage is a serialized chat message entry.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	SessionID    string `json:"session_id"`
	MessageCount int    `json:"message_count"`
}
