// Package agent implements the orchestration loop and the chat service built on it.
package agent

// ChatRequest represents a chat request to the agent.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse represents a chat response from the agent.
type ChatResponse struct {
	Reply     string   `json:"reply"`
	SessionID string   `json:"session_id"`
	ToolsUsed []string `json:"tools_used,omitempty"`
	// State is the planner phase after the turn.
	State string `json:"state,omitempty"`
}

// Message roles stored in the session transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
