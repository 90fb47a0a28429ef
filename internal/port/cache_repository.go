package port

import (
	"context"

	"github.com/opetsoft/workshop-core/internal/core/domain"
)

// StockSnapshot is a cached view of one SKU's counters, versioned so a
// stale writer can never overwrite a newer snapshot.
type StockSnapshot struct {
	SKU      string `json:"sku"`
	Current  int    `json:"current"`
	Reserved int    `json:"reserved"`
	Version  int64  `json:"version"`
}

// CacheRepository is a read-through, invalidate-on-command cache. It is
// never authoritative; a miss or error always falls back to the store.
type CacheRepository interface {
	// GetOrder returns the cached order, or nil on miss.
	GetOrder(ctx context.Context, id string) (*domain.ServiceOrder, error)

	SetOrder(ctx context.Context, order *domain.ServiceOrder) error

	// InvalidateOrder drops the cached copy after a mutation.
	InvalidateOrder(ctx context.Context, id string) error

	// GetStock returns the cached snapshot, or nil on miss.
	GetStock(ctx context.Context, sku string) (*StockSnapshot, error)

	// SetStock stores the snapshot unless a newer version is already
	// cached.
	SetStock(ctx context.Context, snap StockSnapshot) error

	// SetIdempotency claims a request key, returning false if it was
	// already claimed.
	SetIdempotency(ctx context.Context, key string) (bool, error)
}
