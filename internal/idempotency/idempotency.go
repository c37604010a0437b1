// Package idempotency caches the results of write operations by caller-supplied key.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// DefaultTTL bounds how long a cached write result is replayed.
const DefaultTTL = 24 * time.Hour

// Store caches successful write results. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (domain.ToolResult, bool, error)
	Put(ctx context.Context, key string, result domain.ToolResult) error
}

// CancelKey namespaces a cancellation key by order.
func CancelKey(orderID, key string) string {
	return "cancel:" + orderID + ":" + key
}

// CreateKey namespaces an order-creation key.
func CreateKey(key string) string {
	return "create:" + key
}

type entry struct {
	result  domain.ToolResult
	expires time.Time
}

// MemoryStore is a process-local Store. A zero ttl keeps entries forever.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (domain.ToolResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return domain.ToolResult{}, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return domain.ToolResult{}, false, nil
	}
	return e.result, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, result domain.ToolResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{result: result}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[key] = e
	return nil
}

// Len reports the number of cached entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Store = (*MemoryStore)(nil)
