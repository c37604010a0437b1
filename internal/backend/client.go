// Package backend is the REST client the tools use to reach the orders system of record.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// IdempotencyHeader carries the idempotency key on mutating requests.
const IdempotencyHeader = "Idempotency-Key"

const maxErrorBody = 500

// Config holds client settings.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	// Attempts is the total number of tries for transport-level failures.
	Attempts   int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// DefaultConfig returns the production retry policy: two attempts, backoff
// from 200ms capped at 1s.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:8080",
		Timeout:    5 * time.Second,
		Attempts:   2,
		BackoffMin: 200 * time.Millisecond,
		BackoffMax: time.Second,
	}
}

// Client talks to the orders backend.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New creates a Client. Only transport failures and timeouts are retried;
// HTTP error statuses never are.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.Attempts - 1).
		SetRetryWaitTime(cfg.BackoffMin).
		SetRetryMaxWaitTime(cfg.BackoffMax).
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			return err != nil
		}).
		SetLogger(restyLogger{logger})
	if cfg.AccessToken != "" {
		rc.SetAuthToken(cfg.AccessToken)
	}

	return &Client{http: rc, logger: logger}
}

// GetLatestOrder returns the most recent order of the authenticated user.
func (c *Client) GetLatestOrder(ctx context.Context) (domain.Order, error) {
	var out domain.Order
	err := c.do(ctx, c.http.R(), http.MethodGet, "/v1/me/orders/latest", &out)
	return out, err
}

// GetOrderStatus returns the status view of one order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	var out domain.OrderStatus
	req := c.http.R().SetPathParam("id", orderID)
	err := c.do(ctx, req, http.MethodGet, "/v1/orders/{id}/status", &out)
	return out, err
}

// RequestCancellation asks the backend to cancel an order. An empty key is
// replaced by a fresh one; the key used is always reported in the outcome.
func (c *Client) RequestCancellation(ctx context.Context, orderID, key string) (domain.CancelOutcome, error) {
	key = ensureKey(key)
	var out domain.CancelOutcome
	req := c.http.R().
		SetPathParam("id", orderID).
		SetHeader(IdempotencyHeader, key).
		SetBody(map[string]any{})
	if err := c.do(ctx, req, http.MethodPost, "/v1/orders/{id}/cancel", &out); err != nil {
		return domain.CancelOutcome{}, err
	}
	if out.IdempotencyKey == "" {
		out.IdempotencyKey = key
	}
	return out, nil
}

// CreateOrder places a new order and returns it with the idempotency key used.
func (c *Client) CreateOrder(ctx context.Context, items []domain.OrderItem, key string) (domain.Order, string, error) {
	key = ensureKey(key)
	var out domain.Order
	req := c.http.R().
		SetHeader(IdempotencyHeader, key).
		SetBody(map[string]any{"items": items})
	if err := c.do(ctx, req, http.MethodPost, "/v1/orders", &out); err != nil {
		return domain.Order{}, key, err
	}
	return out, key, nil
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, path string, out any) error {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		c.logger.Warn("backend request failed", "method", method, "path", path, "error", err)
		return transportError(err)
	}
	if te := statusError(resp); te != nil {
		c.logger.Warn("backend returned error status", "method", method, "path", path, "status", resp.StatusCode(), "code", te.Code)
		return te
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return domain.NewToolError(domain.CodeUpstreamError, "Invalid backend response", map[string]any{"exception": err.Error()})
	}
	return nil
}

func ensureKey(key string) string {
	if key == "" {
		return uuid.NewString()
	}
	return key
}

func statusError(resp *resty.Response) *domain.ToolError {
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized:
		return domain.NewToolError(domain.CodeUnauthorized, "Unauthorized", nil)
	case code == http.StatusForbidden:
		return domain.NewToolError(domain.CodeForbidden, "Forbidden", nil)
	case code == http.StatusNotFound:
		return domain.NewToolError(domain.CodeNotFound, "Not found", nil)
	case code >= http.StatusBadRequest:
		return domain.NewToolError(domain.CodeUpstreamError, "Backend error", map[string]any{
			"status": code,
			"body":   truncate(resp.String(), maxErrorBody),
		})
	default:
		return nil
	}
}

func transportError(err error) *domain.ToolError {
	if isTimeout(err) {
		return domain.NewToolError(domain.CodeUpstreamTimeout, "Backend timeout", nil)
	}
	return domain.NewToolError(domain.CodeUpstreamError, "Backend unreachable", map[string]any{"exception": err.Error()})
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// restyLogger routes resty's internal logging into slog.
type restyLogger struct {
	l *slog.Logger
}

func (r restyLogger) Errorf(format string, v ...interface{}) {
	r.l.Error(fmt.Sprintf(strings.TrimSpace(format), v...), "component", "resty")
}

func (r restyLogger) Warnf(format string, v ...interface{}) {
	r.l.Warn(fmt.Sprintf(strings.TrimSpace(format), v...), "component", "resty")
}

func (r restyLogger) Debugf(format string, v ...interface{}) {
	r.l.Debug(fmt.Sprintf(strings.TrimSpace(format), v...), "component", "resty")
}
