package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vayux/mcp-intentful-agent/internal/identity"
	"github.com/vayux/mcp-intentful-agent/internal/store"
)

// HandleListSessions returns {"sessions": [{session_id, message_count}]}.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chat.Sessions(r.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// HandleDeleteSession clears one session.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := identity.SanitizeSessionID(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := h.chat.ResetSession(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to delete session", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	h.logger.Info("session cleared", "session_id", id)
	JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
