package planner

import (
	"encoding/json"
	"fmt"

	"github.com/vayux/mcp-intentful-agent/internal/action"
	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// Phase is the conversation phase between turns.
type Phase int

const (
	PhaseIdle Phase = iota
	// PhaseAwaitingConfirmation: a write is pending the human's "yes".
	PhaseAwaitingConfirmation
	// PhaseAwaitingClarification: the planner asked what to order.
	PhaseAwaitingClarification
)

var phaseNames = map[Phase]string{
	PhaseIdle:                  "idle",
	PhaseAwaitingConfirmation:  "awaiting_confirmation",
	PhaseAwaitingClarification: "awaiting_clarification",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseNames {
		if name == s {
			return p, nil
		}
	}
	return PhaseIdle, fmt.Errorf("unknown phase %q", s)
}

// State is the explicit planner state carried alongside the history.
type State struct {
	Phase Phase
	// Pending is the confirmed write that a "yes" would issue.
	Pending *action.Tool
}

// Idle is the zero state.
func Idle() State { return State{Phase: PhaseIdle} }

type stateWire struct {
	Phase   string          `json:"phase"`
	Pending json.RawMessage `json:"pending,omitempty"`
}

// MarshalJSON encodes the state with the pending action in its wire form.
func (s State) MarshalJSON() ([]byte, error) {
	w := stateWire{Phase: s.Phase.String()}
	if s.Pending != nil {
		raw, err := action.Marshal(*s.Pending)
		if err != nil {
			return nil, fmt.Errorf("encode pending action: %w", err)
		}
		w.Pending = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a state written by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var w stateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	phase, err := ParsePhase(w.Phase)
	if err != nil {
		return err
	}
	out := State{Phase: phase}
	if len(w.Pending) > 0 && string(w.Pending) != "null" {
		a, err := action.Unmarshal(w.Pending)
		if err != nil {
			return fmt.Errorf("decode pending action: %w", err)
		}
		tool, ok := a.(action.Tool)
		if !ok {
			return fmt.Errorf("pending action must be a tool, got %s", a.Kind())
		}
		out.Pending = &tool
	}
	*s = out
	return nil
}

// StateOf derives the state implied by the tail of the history.
func StateOf(history domain.History) State {
	last, ok := history.Last()
	if !ok {
		return Idle()
	}
	if _, done := writeOutcome(last); done {
		return Idle()
	}
	for _, r := range reverse(history.Tail(2)) {
		if r.IsConfirmationRequired() {
			return State{Phase: PhaseAwaitingConfirmation, Pending: pendingFromGate(r.Error.Details, history)}
		}
	}
	if st, ok := last.Status(); ok && st.Status == domain.StatusDelayed && !st.Cancelled {
		return State{Phase: PhaseAwaitingConfirmation, Pending: cancelTool(st.OrderID)}
	}
	return Idle()
}

// pendingFromGate rebuilds the confirmed call for a CONFIRMATION_REQUIRED error.
func pendingFromGate(details map[string]any, history domain.History) *action.Tool {
	if raw, ok := details["items"]; ok {
		t := createTool(raw, true)
		return &t
	}
	if id, ok := details["order_id"].(string); ok && id != "" {
		return cancelTool(id)
	}
	if id := latestOrderID(history); id != "" {
		return cancelTool(id)
	}
	return nil
}

func cancelTool(orderID string) *action.Tool {
	return &action.Tool{
		Name:      domain.ToolRequestOrderCancellation,
		Args:      map[string]any{"order_id": orderID, "confirmed": true},
		Rationale: "User confirmed cancellation.",
	}
}

func reverse(h domain.History) []domain.ToolResult {
	out := make([]domain.ToolResult, len(h))
	for i, r := range h {
		out[len(h)-1-i] = r
	}
	return out
}
