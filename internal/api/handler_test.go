//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vayux/mcp-intentful-agent/internal/agent"
	"github.com/vayux/mcp-intentful-agent/internal/domain"
	"github.com/vayux/mcp-intentful-agent/internal/identity"
	"github.com/vayux/mcp-intentful-agent/internal/store"
)

// fakeProcessor echoes messages and counts them per session.
type fakeProcessor struct {
	mu       sync.Mutex
	sessions map[string]int
	err      error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{sessions: make(map[string]int)}
}

func (f *fakeProcessor) Chat(_ context.Context, req agent.ChatRequest) (*agent.ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, agent.ErrEmptyMessage
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[req.SessionID] += 2
	return &agent.ChatResponse{Reply: "echo: " + req.Message, SessionID: req.SessionID}, nil
}

func (f *fakeProcessor) Sessions(context.Context) ([]domain.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.SessionSummary{}
	for id, n := range f.sessions {
		out = append(out, domain.SessionSummary{SessionID: id, MessageCount: n})
	}
	return out, nil
}

func (f *fakeProcessor) ResetSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return store.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func newTestRouter(t *testing.T, p agent.Processor, opts Options) http.Handler {
	t.Helper()
	h := NewHandler(p, opts, nil)
	t.Cleanup(h.Close)
	return NewRouter(h)
}

func postChat(t *testing.T, r http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestChatMintsSessionID(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, newFakeProcessor(), Options{})

	rec := postChat(t, r, `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp agent.ChatResponse
	decodeBody(t, rec, &resp)
	if resp.Reply != "echo: hi" || resp.SessionID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if rec.Header().Get(identity.SessionHeaderName) != resp.SessionID {
		t.Fatal("expected the session id echoed in the header")
	}
}

func TestChatUsesHeaderSession(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, newFakeProcessor(), Options{})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set(identity.SessionHeaderName, "tab-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var resp agent.ChatResponse
	decodeBody(t, rec, &resp)
	if resp.SessionID != "tab-7" {
		t.Fatalf("expected header session id, got %q", resp.SessionID)
	}
}

func TestChatErrors(t *testing.T) {
	t.Parallel()

	failing := newFakeProcessor()
	failing.err = errors.New("tool server down")

	tests := []struct {
		name   string
		p      agent.Processor
		body   string
		status int
	}{
		{name: "invalid body", p: newFakeProcessor(), body: `{`, status: http.StatusBadRequest},
		{name: "empty message", p: newFakeProcessor(), body: `{"message":"  "}`, status: http.StatusBadRequest},
		{name: "bad session id", p: newFakeProcessor(), body: `{"message":"hi","session_id":"a b"}`, status: http.StatusBadRequest},
		{name: "turn failure", p: failing, body: `{"message":"hi"}`, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := postChat(t, newTestRouter(t, tt.p, Options{}), tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["error"] == "" {
				t.Fatal("expected an error message")
			}
		})
	}
}

func TestChatRateLimit(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, newFakeProcessor(), Options{RateLimitRPS: 0.001, RateLimitBurst: 2})

	for i := range 2 {
		if rec := postChat(t, r, `{"message":"hi","session_id":"busy"}`); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := postChat(t, r, `{"message":"hi","session_id":"busy"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := postChat(t, r, `{"message":"hi","session_id":"other"}`); rec.Code != http.StatusOK {
		t.Fatalf("other sessions must not be limited, got %d", rec.Code)
	}
}

func TestChatRateLimitPerClient(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, newFakeProcessor(), Options{RateLimitRPS: 0.001, RateLimitBurst: 2})

	send := func(session, ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi","session_id":"`+session+`"}`))
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := range 2 * clientShare {
		if code := send(fmt.Sprintf("rotating-%d", i), "203.0.113.7"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("rotating-fresh", "203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("fresh session ids must not bypass the client limit, got %d", code)
	}
	if code := send("rotating-fresh", "203.0.113.8"); code != http.StatusOK {
		t.Fatalf("other clients must not be limited, got %d", code)
	}
}

func TestSessionRoutes(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, newFakeProcessor(), Options{})

	postChat(t, r, `{"message":"hi","session_id":"s1"}`)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	var list struct {
		Sessions []domain.SessionSummary `json:"sessions"`
	}
	decodeBody(t, rec, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].SessionID != "s1" || list.Sessions[0].MessageCount != 2 {
		t.Fatalf("unexpected sessions %+v", list.Sessions)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cleared map[string]string
	decodeBody(t, rec, &cleared)
	if cleared["status"] != "cleared" {
		t.Fatalf("unexpected body %v", cleared)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/s1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, newFakeProcessor(), Options{})

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestWebSocketChat(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(newTestRouter(t, newFakeProcessor(), Options{}))
	defer srv.Close()

	ctx := context.Background()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat?session_id=ws-1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	if err := wsjson.Write(ctx, ws, agent.ChatRequest{Message: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp agent.ChatResponse
	if err := wsjson.Read(ctx, ws, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Reply != "echo: hello" || resp.SessionID != "ws-1" {
		t.Fatalf("unexpected frame %+v", resp)
	}

	if err := wsjson.Write(ctx, ws, agent.ChatRequest{Message: ""}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errFrame map[string]string
	if err := wsjson.Read(ctx, ws, &errFrame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if errFrame["error"] != "message is required" {
		t.Fatalf("unexpected error frame %v", errFrame)
	}
}
