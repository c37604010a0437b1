// Package domain holds the data model shared by the agent, the tool server and the backend client.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code classifies a failed tool invocation.
type Code string

const (
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeNotFound             Code = "NOT_FOUND"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeConflict             Code = "CONFLICT"
	CodeUpstreamTimeout      Code = "UPSTREAM_TIMEOUT"
	CodeUpstreamError        Code = "UPSTREAM_ERROR"
	CodeConfirmationRequired Code = "CONFIRMATION_REQUIRED"
)

// ToolError is the structured failure carried by a ToolResult.
type ToolError struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// NewToolError creates a ToolError. A nil details map is replaced by an empty one
// so the wire form always carries an object.
func NewToolError(code Code, message string, details map[string]any) *ToolError {
	if details == nil {
		details = map[string]any{}
	}
	return &ToolError{Code: code, Message: message, Details: details}
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsToolError normalizes any error into a ToolError. Errors that are not
// already ToolErrors become UPSTREAM_ERROR.
func AsToolError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return NewToolError(CodeUpstreamError, "Unexpected error", map[string]any{"exception": err.Error()})
}

// ToolResult is the normalized outcome of one tool invocation.
//
// On the wire the payload keys are flattened next to "ok":
//
//	{"ok": true, "order": {...}}
//	{"ok": false, "error": {"code": "...", "message": "...", "details": {...}}}
type ToolResult struct {
	OK bool
	// Tool names the tool that produced the result. Set by the loop.
	Tool    string
	Payload map[string]any
	Error   *ToolError
}

// Success builds a successful result.
func Success(payload map[string]any) ToolResult {
	if payload == nil {
		payload = map[string]any{}
	}
	return ToolResult{OK: true, Payload: payload}
}

// Failure builds a failed result from any error.
func Failure(err error) ToolResult {
	return ToolResult{OK: false, Error: AsToolError(err)}
}

// Completed is the result used when a tool answered without a usable body.
func Completed() ToolResult {
	return Success(map[string]any{"result": "completed"})
}

// Code returns the error code of a failed result, or "" on success.
func (r ToolResult) Code() Code {
	if r.OK || r.Error == nil {
		return ""
	}
	return r.Error.Code
}

// IsConfirmationRequired reports whether the result is the confirmation gate signal.
func (r ToolResult) IsConfirmationRequired() bool {
	return r.Code() == CodeConfirmationRequired
}

// Order decodes the "order" payload, if present.
func (r ToolResult) Order() (Order, bool) {
	return payloadAs[Order](r, "order")
}

// Status decodes the "status" payload, if present.
func (r ToolResult) Status() (OrderStatus, bool) {
	return payloadAs[OrderStatus](r, "status")
}

// Cancellation decodes the "result" payload of a cancellation, if present.
func (r ToolResult) Cancellation() (CancelOutcome, bool) {
	out, ok := payloadAs[CancelOutcome](r, "result")
	if !ok || out.Status == "" {
		return CancelOutcome{}, false
	}
	return out, true
}

func payloadAs[T any](r ToolResult, key string) (T, bool) {
	var zero T
	if !r.OK {
		return zero, false
	}
	v, ok := r.Payload[key]
	if !ok || v == nil {
		return zero, false
	}
	return DecodeAny[T](v)
}

// DecodeAny converts a JSON-shaped value (maps, slices, structs) into T by
// re-encoding it.
func DecodeAny[T any](v any) (T, bool) {
	var out T
	raw, err := json.Marshal(v)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// MarshalJSON flattens the payload next to "ok".
func (r ToolResult) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Payload)+3)
	for k, v := range r.Payload {
		m[k] = v
	}
	m["ok"] = r.OK
	if r.Tool != "" {
		m["tool"] = r.Tool
	}
	if r.Error != nil {
		m["error"] = r.Error
	}
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON. Objects without a boolean "ok" are rejected.
func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	rawOK, ok := m["ok"]
	if !ok {
		return errors.New("tool result: missing \"ok\"")
	}
	var out ToolResult
	if err := json.Unmarshal(rawOK, &out.OK); err != nil {
		return fmt.Errorf("tool result: decode ok: %w", err)
	}
	if rawTool, ok := m["tool"]; ok {
		if err := json.Unmarshal(rawTool, &out.Tool); err != nil {
			return fmt.Errorf("tool result: decode tool: %w", err)
		}
	}
	if rawErr, ok := m["error"]; ok && string(rawErr) != "null" {
		var te ToolError
		if err := json.Unmarshal(rawErr, &te); err != nil {
			return fmt.Errorf("tool result: decode error: %w", err)
		}
		if te.Details == nil {
			te.Details = map[string]any{}
		}
		out.Error = &te
	}
	for k, v := range m {
		if k == "ok" || k == "tool" || k == "error" {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("tool result: decode %q: %w", k, err)
		}
		if out.Payload == nil {
			out.Payload = make(map[string]any)
		}
		out.Payload[k] = val
	}
	if out.OK && out.Payload == nil {
		out.Payload = map[string]any{}
	}
	*r = out
	return nil
}

// History is the ordered, append-only record of tool results for a conversation.
type History []ToolResult

// Append returns a new history with r added. The receiver is never modified.
func (h History) Append(r ToolResult) History {
	out := make(History, len(h), len(h)+1)
	copy(out, h)
	return append(out, r)
}

// Last returns the most recent result.
func (h History) Last() (ToolResult, bool) {
	if len(h) == 0 {
		return ToolResult{}, false
	}
	return h[len(h)-1], true
}

// Tail returns the last n results, oldest first.
func (h History) Tail(n int) History {
	if n >= len(h) {
		return h
	}
	return h[len(h)-n:]
}
