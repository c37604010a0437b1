// Package tools implements the order tools: scope checks, argument validation,
// the confirmation gate for writes and idempotent replays.
package tools

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/vayux/mcp-intentful-agent/internal/backend"
	"github.com/vayux/mcp-intentful-agent/internal/domain"
	"github.com/vayux/mcp-intentful-agent/internal/idempotency"
)

// Backend is the system of record the tools operate on.
type Backend interface {
	GetLatestOrder(ctx context.Context) (domain.Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error)
	RequestCancellation(ctx context.Context, orderID, key string) (domain.CancelOutcome, error)
	CreateOrder(ctx context.Context, items []domain.OrderItem, key string) (domain.Order, string, error)
}

var _ Backend = (*backend.Client)(nil)

// Definition describes a tool for discovery.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

var descriptions = map[string]string{
	domain.ToolGetLatestOrder:           "Get the most recent order for the authenticated user.",
	domain.ToolGetOrderStatus:           "Get status for a specific order by order_id.",
	domain.ToolRequestOrderCancellation: "Request cancellation for an order. Requires confirmed=true. Idempotent.",
	domain.ToolCreateOrder:              "Create a new order with the specified products. Available products: widget, gadget, gizmo, doohickey, thingamajig. Requires confirmed=true.",
}

type handler func(ctx context.Context, args map[string]any) (domain.ToolResult, error)

// Toolset executes tools on behalf of one caller with a fixed scope grant.
type Toolset struct {
	backend Backend
	scopes  map[domain.Scope]bool
	idem    idempotency.Store
	logger  *slog.Logger

	handlers map[string]handler
}

// Option configures a Toolset.
type Option func(*Toolset)

// WithIdempotency replaces the default in-memory idempotency store.
func WithIdempotency(s idempotency.Store) Option {
	return func(t *Toolset) { t.idem = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Toolset) { t.logger = l }
}

// New creates a Toolset granted scopes.
func New(b Backend, scopes []domain.Scope, opts ...Option) *Toolset {
	t := &Toolset{
		backend: b,
		scopes:  make(map[domain.Scope]bool, len(scopes)),
		idem:    idempotency.NewMemoryStore(idempotency.DefaultTTL),
		logger:  slog.Default(),
	}
	for _, s := range scopes {
		t.scopes[s] = true
	}
	for _, opt := range opts {
		opt(t)
	}
	t.handlers = map[string]handler{
		domain.ToolGetLatestOrder:           t.getLatestOrder,
		domain.ToolGetOrderStatus:           t.getOrderStatus,
		domain.ToolRequestOrderCancellation: t.requestCancellation,
		domain.ToolCreateOrder:              t.createOrder,
	}
	return t
}

// Definitions lists the tools in name order.
func (t *Toolset) Definitions() []Definition {
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, Definition{
			Name:        name,
			Description: descriptions[name],
			InputSchema: inputSchemas[name],
		})
	}
	return defs
}

// Call runs the named tool. Every failure, unknown tools included, is folded
// into a failed ToolResult.
func (t *Toolset) Call(ctx context.Context, name string, args map[string]any) domain.ToolResult {
	h, ok := t.handlers[name]
	if !ok {
		return domain.Failure(domain.NewToolError(domain.CodeNotFound, "Unknown tool: "+name, nil))
	}
	res, err := h(ctx, args)
	if err != nil {
		te := domain.AsToolError(err)
		if te.Code == domain.CodeConfirmationRequired {
			t.logger.Info("tool gated on confirmation", "tool", name)
		} else {
			t.logger.Warn("tool failed", "tool", name, "code", te.Code, "error", te.Message)
		}
		return domain.Failure(te)
	}
	return res
}

func (t *Toolset) requireScope(s domain.Scope) error {
	if !t.scopes[s] {
		return domain.NewToolError(domain.CodeForbidden, "Missing scope: "+string(s), nil)
	}
	return nil
}

func (t *Toolset) getLatestOrder(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	if err := t.requireScope(domain.ScopeOrderRead); err != nil {
		return domain.ToolResult{}, err
	}
	if te := validateArgs(domain.ToolGetLatestOrder, args, nil); te != nil {
		return domain.ToolResult{}, te
	}

	order, err := t.backend.GetLatestOrder(ctx)
	if err != nil {
		return domain.ToolResult{}, err
	}
	t.logger.Info("tool call", "tool", domain.ToolGetLatestOrder, "order_id", order.OrderID)
	return domain.Success(map[string]any{"order": order}), nil
}

type statusArgs struct {
	OrderID string `json:"order_id"`
}

func (t *Toolset) getOrderStatus(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	if err := t.requireScope(domain.ScopeOrderRead); err != nil {
		return domain.ToolResult{}, err
	}
	var in statusArgs
	if te := validateArgs(domain.ToolGetOrderStatus, args, &in); te != nil {
		return domain.ToolResult{}, te
	}

	st, err := t.backend.GetOrderStatus(ctx, in.OrderID)
	if err != nil {
		return domain.ToolResult{}, err
	}
	t.logger.Info("tool call", "tool", domain.ToolGetOrderStatus, "order_id", in.OrderID, "status", st.Status)
	return domain.Success(map[string]any{"status": st}), nil
}

type cancelArgs struct {
	OrderID        string  `json:"order_id"`
	Confirmed      *bool   `json:"confirmed"`
	IdempotencyKey *string `json:"idempotency_key"`
}

func (t *Toolset) requestCancellation(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	if err := t.requireScope(domain.ScopeOrderCancel); err != nil {
		return domain.ToolResult{}, err
	}
	var in cancelArgs
	if te := validateArgs(domain.ToolRequestOrderCancellation, args, &in); te != nil {
		return domain.ToolResult{}, te
	}

	if in.Confirmed == nil || !*in.Confirmed {
		return domain.ToolResult{}, domain.NewToolError(domain.CodeConfirmationRequired,
			"Cancellation requires explicit confirmation.",
			map[string]any{"order_id": in.OrderID, "required": map[string]any{"confirmed": true}})
	}

	key := mintKey(in.IdempotencyKey)
	cacheKey := idempotency.CancelKey(in.OrderID, key)
	if cached, ok := t.lookup(ctx, cacheKey); ok {
		t.logger.Info("write replayed", "audit", true, "tool", domain.ToolRequestOrderCancellation,
			"cache_hit", true, "order_id", in.OrderID, "idempotency_key", key)
		return cached, nil
	}

	out, err := t.backend.RequestCancellation(ctx, in.OrderID, key)
	if err != nil {
		return domain.ToolResult{}, err
	}
	t.logger.Info("write executed", "audit", true, "tool", domain.ToolRequestOrderCancellation,
		"order_id", in.OrderID, "idempotency_key", key, "status", out.Status)

	res := domain.Success(map[string]any{"result": out, "idempotency_key": key})
	t.remember(ctx, cacheKey, res)
	return res, nil
}

type createArgs struct {
	Items []struct {
		ProductName string `json:"product_name"`
		Quantity    *int   `json:"quantity"`
	} `json:"items"`
	Confirmed      *bool   `json:"confirmed"`
	IdempotencyKey *string `json:"idempotency_key"`
}

func (t *Toolset) createOrder(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	if err := t.requireScope(domain.ScopeOrderWrite); err != nil {
		return domain.ToolResult{}, err
	}
	var in createArgs
	if te := validateArgs(domain.ToolCreateOrder, args, &in); te != nil {
		return domain.ToolResult{}, te
	}

	items := make([]domain.OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		qty := 1
		if it.Quantity != nil {
			qty = *it.Quantity
		}
		items = append(items, domain.OrderItem{ProductName: it.ProductName, Quantity: qty})
	}

	if in.Confirmed == nil || !*in.Confirmed {
		pending := make([]any, 0, len(items))
		for _, it := range items {
			pending = append(pending, map[string]any{"product_name": it.ProductName, "quantity": it.Quantity})
		}
		return domain.ToolResult{}, domain.NewToolError(domain.CodeConfirmationRequired,
			"Please confirm you want to place an order for: "+domain.ItemsSummary(items),
			map[string]any{"items": pending, "required": map[string]any{"confirmed": true}})
	}

	key := mintKey(in.IdempotencyKey)
	cacheKey := idempotency.CreateKey(key)
	if cached, ok := t.lookup(ctx, cacheKey); ok {
		t.logger.Info("write replayed", "audit", true, "tool", domain.ToolCreateOrder,
			"cache_hit", true, "idempotency_key", key)
		return cached, nil
	}

	order, key, err := t.backend.CreateOrder(ctx, items, key)
	if err != nil {
		return domain.ToolResult{}, err
	}
	t.logger.Info("write executed", "audit", true, "tool", domain.ToolCreateOrder,
		"order_id", order.OrderID, "items", len(items), "total", order.Total, "idempotency_key", key)

	res := domain.Success(map[string]any{"order": order})
	t.remember(ctx, cacheKey, res)
	return res, nil
}

func (t *Toolset) lookup(ctx context.Context, key string) (domain.ToolResult, bool) {
	cached, ok, err := t.idem.Get(ctx, key)
	if err != nil {
		t.logger.Warn("idempotency lookup failed", "key", key, "error", err)
		return domain.ToolResult{}, false
	}
	return cached, ok
}

func (t *Toolset) remember(ctx context.Context, key string, res domain.ToolResult) {
	if err := t.idem.Put(ctx, key, res); err != nil {
		t.logger.Warn("idempotency store failed", "key", key, "error", err)
	}
}

func mintKey(key *string) string {
	if key != nil && *key != "" {
		return *key
	}
	return uuid.NewString()
}
