package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

func testConfig(url string) Config {
	return Config{
		BaseURL:     url,
		AccessToken: "test-token",
		Timeout:     200 * time.Millisecond,
		Attempts:    2,
		BackoffMin:  5 * time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
	}
}

func codeOf(t *testing.T, err error) domain.Code {
	t.Helper()
	var te *domain.ToolError
	if !errors.As(err, &te) {
		t.Fatalf("expected *domain.ToolError, got %T (%v)", err, err)
	}
	return te.Code
}

func TestGetLatestOrderSendsBearerToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/me/orders/latest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId":"ORD-12345","status":"DELAYED","items":[{"name":"Widget","qty":2}],"total":49.99,"cancelled":false}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	order, err := c.GetLatestOrder(context.Background())
	if err != nil {
		t.Fatalf("GetLatestOrder: %v", err)
	}
	if order.OrderID != "ORD-12345" || order.Status != domain.StatusDelayed {
		t.Fatalf("unexpected order: %+v", order)
	}
	if len(order.Items) != 1 || order.Items[0].Qty != 2 {
		t.Fatalf("unexpected items: %+v", order.Items)
	}
}

func TestTimeoutThenSuccessIsRetriedOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte(`{"orderId":"ORD-1","status":"SHIPPED","cancelled":false}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	st, err := c.GetOrderStatus(context.Background(), "ORD-1")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if st.Status != domain.StatusShipped {
		t.Fatalf("status = %s", st.Status)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestPersistentTimeoutMapsToUpstreamTimeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	_, err := c.GetLatestOrder(context.Background())
	if code := codeOf(t, err); code != domain.CodeUpstreamTimeout {
		t.Fatalf("code = %s", code)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestServerErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 800)))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	_, err := c.GetLatestOrder(context.Background())

	var te *domain.ToolError
	if !errors.As(err, &te) {
		t.Fatalf("expected ToolError, got %v", err)
	}
	if te.Code != domain.CodeUpstreamError {
		t.Fatalf("code = %s", te.Code)
	}
	if te.Details["status"] != http.StatusInternalServerError {
		t.Fatalf("status detail = %v", te.Details["status"])
	}
	if body, _ := te.Details["body"].(string); len(body) != maxErrorBody {
		t.Fatalf("body detail length = %d", len(body))
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   domain.Code
	}{
		{http.StatusUnauthorized, domain.CodeUnauthorized},
		{http.StatusForbidden, domain.CodeForbidden},
		{http.StatusNotFound, domain.CodeNotFound},
		{http.StatusBadRequest, domain.CodeUpstreamError},
		{http.StatusConflict, domain.CodeUpstreamError},
		{http.StatusBadGateway, domain.CodeUpstreamError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := New(testConfig(srv.URL), nil).GetOrderStatus(context.Background(), "ORD-1")
			if code := codeOf(t, err); code != tt.want {
				t.Fatalf("status %d: code = %s, want %s", tt.status, code, tt.want)
			}
		})
	}
}

func TestCancellationKeepsIdempotencyKeyAcrossAttempts(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get(IdempotencyHeader))
		n := len(keys)
		mu.Unlock()
		if n == 1 {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"orderId": "ORD-12345", "status": "CANCELLED"})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	out, err := c.RequestCancellation(context.Background(), "ORD-12345", "")
	if err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(keys))
	}
	if keys[0] == "" || keys[0] != keys[1] {
		t.Fatalf("idempotency key changed across attempts: %q vs %q", keys[0], keys[1])
	}
	if out.IdempotencyKey != keys[0] {
		t.Fatalf("outcome key = %q, want %q", out.IdempotencyKey, keys[0])
	}
}

func TestCreateOrderUsesCallerKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(IdempotencyHeader); got != "caller-key-1" {
			t.Errorf("key = %q", got)
		}
		var body struct {
			Items []domain.OrderItem `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Items) != 1 {
			t.Errorf("bad body: %v %+v", err, body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ORD-00001","status":"PROCESSING","items":[{"name":"Widget","qty":2}],"total":49.98}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	order, key, err := c.CreateOrder(context.Background(), []domain.OrderItem{{ProductName: "widget", Quantity: 2}}, "caller-key-1")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if key != "caller-key-1" {
		t.Fatalf("key = %q", key)
	}
	if order.Status != domain.StatusProcessing {
		t.Fatalf("status = %s", order.Status)
	}
}

func TestUnreachableBackend(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(testConfig(url), nil).GetLatestOrder(context.Background())
	if code := codeOf(t, err); code != domain.CodeUpstreamError {
		t.Fatalf("code = %s", code)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL), nil).GetLatestOrder(context.Background())
	if code := codeOf(t, err); code != domain.CodeUpstreamError {
		t.Fatalf("code = %s", code)
	}
}
