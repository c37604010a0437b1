// Package orderbackend is an in-memory stand-in for the orders system of record.
package orderbackend

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

var (
	// ErrOrderNotFound is returned for unknown order IDs.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNoItems is returned when an order has no items.
	ErrNoItems = errors.New("order must contain at least one item")
)

// UnknownProductError names a product missing from the catalog.
type UnknownProductError struct {
	Product   string
	Available []string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("Unknown product: %s. Available: %s", e.Product, strings.Join(e.Available, ", "))
}

// Product is a catalog entry.
type Product struct {
	Name  string
	Price float64
}

// DefaultProducts is the mock catalog keyed by lowercase product name.
var DefaultProducts = map[string]Product{
	"widget":      {Name: "Widget", Price: 24.99},
	"gadget":      {Name: "Gadget", Price: 99.99},
	"gizmo":       {Name: "Gizmo", Price: 49.99},
	"doohickey":   {Name: "Doohickey", Price: 19.99},
	"thingamajig": {Name: "Thingamajig", Price: 74.99},
}

// Orders is the mutable order book. All methods are safe for concurrent use.
type Orders struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	latest    string
	seq       int
	mutations int
	products  map[string]Product

	// replays caches mutation responses by idempotency key.
	replays map[string]any
}

// NewOrders returns an order book seeded with the demo orders.
func NewOrders() *Orders {
	return &Orders{
		orders: map[string]domain.Order{
			"ORD-12345": {
				OrderID: "ORD-12345",
				Status:  domain.StatusDelayed,
				Items:   []domain.OrderLine{{Name: "Widget", Qty: 2}},
				Total:   49.99,
			},
			"ORD-67890": {
				OrderID: "ORD-67890",
				Status:  domain.StatusShipped,
				Items:   []domain.OrderLine{{Name: "Gadget", Qty: 1}},
				Total:   99.99,
			},
		},
		latest:   "ORD-12345",
		products: DefaultProducts,
		replays:  make(map[string]any),
	}
}

// Latest returns the most recent order.
func (o *Orders) Latest() (domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, ok := o.orders[o.latest]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	return ord, nil
}

// Status returns the status view of an order.
func (o *Orders) Status(orderID string) (domain.OrderStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, ok := o.orders[orderID]
	if !ok {
		return domain.OrderStatus{}, ErrOrderNotFound
	}
	return domain.OrderStatus{OrderID: ord.OrderID, Status: ord.Status, Cancelled: ord.Cancelled}, nil
}

// Cancel cancels an order. Repeating a key for the same order replays the
// first answer.
func (o *Orders) Cancel(orderID, key string) (domain.CancelOutcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	replayKey := "cancel:" + orderID + ":" + key
	if key != "" {
		if prev, ok := o.replays[replayKey].(domain.CancelOutcome); ok {
			return prev, nil
		}
	}

	ord, ok := o.orders[orderID]
	if !ok {
		return domain.CancelOutcome{}, ErrOrderNotFound
	}

	out := domain.CancelOutcome{OrderID: orderID, IdempotencyKey: key}
	if ord.Cancelled {
		out.Status = domain.StatusAlreadyCancelled
	} else {
		ord.Cancelled = true
		ord.Status = domain.StatusCancelled
		o.orders[orderID] = ord
		o.mutations++
		out.Status = domain.StatusCancelled
	}

	if key != "" {
		o.replays[replayKey] = out
	}
	return out, nil
}

// Create places a new order, which becomes the latest.
func (o *Orders) Create(items []domain.OrderItem, key string) (domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	replayKey := "create:" + key
	if key != "" {
		if prev, ok := o.replays[replayKey].(domain.Order); ok {
			return prev, nil
		}
	}

	if len(items) == 0 {
		return domain.Order{}, ErrNoItems
	}

	lines := make([]domain.OrderLine, 0, len(items))
	total := 0.0
	for _, it := range items {
		p, ok := o.products[strings.ToLower(it.ProductName)]
		if !ok {
			return domain.Order{}, &UnknownProductError{Product: it.ProductName, Available: o.productNames()}
		}
		qty := it.Quantity
		if qty == 0 {
			qty = 1
		}
		lines = append(lines, domain.OrderLine{Name: p.Name, Qty: qty})
		total += p.Price * float64(qty)
	}

	o.seq++
	ord := domain.Order{
		OrderID: fmt.Sprintf("ORD-%05d", o.seq),
		Status:  domain.StatusProcessing,
		Items:   lines,
		Total:   math.Round(total*100) / 100,
	}
	o.orders[ord.OrderID] = ord
	o.latest = ord.OrderID
	o.mutations++

	if key != "" {
		o.replays[replayKey] = ord
	}
	return ord, nil
}

// Mutations counts state changes: effective cancellations and new orders.
func (o *Orders) Mutations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mutations
}

func (o *Orders) productNames() []string {
	names := make([]string, 0, len(o.products))
	for k := range o.products {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
