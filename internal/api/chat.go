package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vayux/mcp-intentful-agent/internal/agent"
	"github.com/vayux/mcp-intentful-agent/internal/identity"
	"github.com/vayux/mcp-intentful-agent/internal/metrics"
)

// chatError is a failed chat request with the status to answer.
type chatError struct {
	status  int
	message string
}

func (e *chatError) Error() string { return e.message }

// HandleChat runs one turn: POST /chat {message, session_id?} -> {reply, session_id}.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req agent.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = identity.SessionIDFromContext(r.Context())
	}

	resp, err := h.chatTurn(r.Context(), req, identity.IPFromRequest(r))
	if err != nil {
		var ce *chatError
		if errors.As(err, &ce) {
			Error(w, ce.status, ce.message)
			return
		}
		Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	w.Header().Set(identity.SessionHeaderName, resp.SessionID)
	JSON(w, http.StatusOK, resp)
}

// HandleWebSocket serves GET /ws/chat. Each text frame is a ChatRequest and is
// answered with a ChatResponse or an {"error": ...} frame. The session id of
// the first turn sticks to the connection unless a frame names another.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.origins),
	})
	if err != nil {
		h.logger.Error("failed to accept websocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(maxRequestBodySize)

	ctx := r.Context()
	remoteIP := identity.IPFromRequest(r)
	for {
		var req agent.ChatRequest
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("websocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("websocket read error", "error", err, "session_id", sessionID)
			}
			return
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}

		var frame any
		resp, err := h.chatTurn(ctx, req, remoteIP)
		if err != nil {
			msg := "failed to process message"
			var ce *chatError
			if errors.As(err, &ce) {
				msg = ce.message
			}
			frame = map[string]string{"error": msg}
		} else {
			sessionID = resp.SessionID
			frame = resp
		}
		if err := wsjson.Write(ctx, ws, frame); err != nil {
			h.logger.Warn("websocket write error", "error", err, "session_id", sessionID)
			return
		}
	}
}

// chatTurn validates the request, applies the client and session rate limits
// and runs the turn.
func (h *Handler) chatTurn(ctx context.Context, req agent.ChatRequest, remoteIP string) (*agent.ChatResponse, error) {
	sessionID, err := identity.SanitizeSessionID(req.SessionID)
	if err != nil {
		return nil, &chatError{status: http.StatusBadRequest, message: "invalid session id"}
	}
	if sessionID == "" {
		sessionID = identity.NewSessionID()
	}
	req.SessionID = sessionID

	if !h.ipLimiter.Allow(remoteIP) || !h.limiter.Allow(sessionID) {
		metrics.RateLimitedTotal.Inc()
		h.logger.Warn("chat rate limit exceeded", "session_id", sessionID, "remote_ip", remoteIP)
		return nil, &chatError{status: http.StatusTooManyRequests, message: "rate limit exceeded"}
	}

	h.logger.Info("agent chat request", "session_id", sessionID, "remote_ip", remoteIP, "message_len", len(req.Message))
	resp, err := h.chat.Chat(ctx, req)
	if err != nil {
		if errors.Is(err, agent.ErrEmptyMessage) {
			return nil, &chatError{status: http.StatusBadRequest, message: "message is required"}
		}
		h.logger.Error("agent chat failed", "session_id", sessionID, "error", err)
		return nil, err
	}
	return resp, nil
}

// originPatterns converts allowed origins into the host patterns the
// websocket library matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
