// Package identity resolves the opaque chat session id of a request.
package identity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// SessionHeaderName carries the session id when it is not in the request body.
const SessionHeaderName = "X-Session-ID"

type contextKey int

const sessionIDKey contextKey = iota

// ErrInvalidSessionID is returned for ids outside the accepted alphabet or length.
var ErrInvalidSessionID = errors.New("invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewSessionID mints a fresh session id.
func NewSessionID() string {
	return uuid.NewString()
}

// SanitizeSessionID trims id and checks it. An empty id is returned as is so
// callers can mint one.
func SanitizeSessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", nil
	}
	if !sessionIDPattern.MatchString(id) {
		return "", ErrInvalidSessionID
	}
	return id, nil
}

// SessionIDFromContext returns the session id set by Middleware, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID stores id in ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func sessionIDFromRequest(r *http.Request) (string, error) {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return SanitizeSessionID(sid)
}

// Middleware puts the request's session id, if any, into the context and
// rejects malformed ids.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := sessionIDFromRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"invalid session id"}`, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
	})
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
