package domain

import (
	"fmt"
	"strings"
)

// Order statuses reported by the orders backend.
const (
	StatusProcessing       = "PROCESSING"
	StatusDelayed          = "DELAYED"
	StatusShipped          = "SHIPPED"
	StatusCancelled        = "CANCELLED"
	StatusAlreadyCancelled = "ALREADY_CANCELLED"
)

// Tool names exposed by the tool server.
const (
	ToolGetLatestOrder           = "get_latest_order"
	ToolGetOrderStatus           = "get_order_status"
	ToolRequestOrderCancellation = "request_order_cancellation"
	ToolCreateOrder              = "create_order"
)

// OrderLine is one line of a stored order.
type OrderLine struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

// Order is an order record as returned by the backend.
type Order struct {
	OrderID   string      `json:"orderId"`
	Status    string      `json:"status"`
	Items     []OrderLine `json:"items"`
	Total     float64     `json:"total"`
	Cancelled bool        `json:"cancelled"`
}

// LinesSummary renders the order lines as "Widget x2, Gadget x1".
func (o Order) LinesSummary() string {
	parts := make([]string, 0, len(o.Items))
	for _, l := range o.Items {
		parts = append(parts, fmt.Sprintf("%s x%d", l.Name, l.Qty))
	}
	return strings.Join(parts, ", ")
}

// OrderStatus is the status view of an order.
type OrderStatus struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	Cancelled bool   `json:"cancelled"`
}

// CancelOutcome is the backend answer to a cancellation request.
type CancelOutcome struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// OrderItem is one requested product in a create_order call.
type OrderItem struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// ItemsSummary renders items as "2x widget, 1x gadget".
func ItemsSummary(items []OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%dx %s", it.Quantity, it.ProductName))
	}
	return strings.Join(parts, ", ")
}

// Scope is an authorization grant checked by each tool.
type Scope string

const (
	ScopeOrderRead   Scope = "order:read"
	ScopeOrderCancel Scope = "order:cancel"
	ScopeOrderWrite  Scope = "order:write"
)

// DefaultScopes is the full grant used by the agent service.
var DefaultScopes = []Scope{ScopeOrderRead, ScopeOrderCancel, ScopeOrderWrite}

// ParseScopes splits a comma separated scope list, dropping blanks.
func ParseScopes(s string) []Scope {
	var out []Scope
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, Scope(part))
		}
	}
	return out
}

// JoinScopes is the inverse of ParseScopes.
func JoinScopes(scopes []Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
