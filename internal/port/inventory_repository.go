package port

import (
	"context"

	"github.com/opetsoft/workshop-core/internal/core/domain"
)

// InventoryRepository owns per-SKU stock state. Reserve, Release and
// Commit are each atomic with respect to a single SKU; two orders touching
// the same SKU serialize here, independent of order-level locking.
type InventoryRepository interface {
	CreateItem(ctx context.Context, item *domain.InventoryItem) error

	// GetItem returns the item, or ErrSKUNotFound. Soft-deleted items are
	// not returned.
	GetItem(ctx context.Context, sku string) (*domain.InventoryItem, error)

	ListItems(ctx context.Context) ([]domain.InventoryItem, error)

	// UpdateItem rewrites catalog fields (name, prices, min quantity).
	// Stock counters are only ever moved by the ledger operations below.
	UpdateItem(ctx context.Context, item *domain.InventoryItem) error

	// SoftDeleteItem marks the item deleted. Callers must first check that
	// no open order references it.
	SoftDeleteItem(ctx context.Context, sku string) error

	// Reserve holds qty units for an open order. Fails with
	// InsufficientStockError when current - reserved < qty.
	Reserve(ctx context.Context, sku string, qty int) error

	// Release returns qty reserved units. Driving reserved below zero is a
	// caller bug and fails with InvariantViolationError.
	Release(ctx context.Context, sku string, qty int) error

	// Commit permanently consumes qty previously reserved units,
	// decrementing current and reserved together.
	Commit(ctx context.Context, sku string, qty int) error

	// AdjustStock moves current_quantity by delta (goods receipt,
	// stocktake). Fails with InvariantViolationError if it would leave
	// current below reserved or below zero.
	AdjustStock(ctx context.Context, sku string, delta int) error
}
