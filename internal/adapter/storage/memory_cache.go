package storage

import (
	"context"
	"sync"

	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/port"
)

var _ port.CacheRepository = (*MemoryCache)(nil)

// MemoryCache backs the cache port without Redis, for tests and the
// standalone store.
type MemoryCache struct {
	mu          sync.Mutex
	orders      map[string]*domain.ServiceOrder
	stock       map[string]port.StockSnapshot
	idempotency map[string]bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		orders:      make(map[string]*domain.ServiceOrder),
		stock:       make(map[string]port.StockSnapshot),
		idempotency: make(map[string]bool),
	}
}

func (c *MemoryCache) GetOrder(ctx context.Context, id string) (*domain.ServiceOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (c *MemoryCache) SetOrder(ctx context.Context, order *domain.ServiceOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[order.ID] = cloneOrder(order)
	return nil
}

func (c *MemoryCache) InvalidateOrder(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, id)
	return nil
}

func (c *MemoryCache) GetStock(ctx context.Context, sku string) (*port.StockSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.stock[sku]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (c *MemoryCache) SetStock(ctx context.Context, snap port.StockSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.stock[snap.SKU]; ok && cur.Version >= snap.Version {
		return nil
	}
	c.stock[snap.SKU] = snap
	return nil
}

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idempotency[key] {
		return false, nil
	}
	c.idempotency[key] = true
	return true, nil
}
