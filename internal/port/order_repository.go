package port

import (
	"context"

	"github.com/opetsoft/workshop-core/internal/core/domain"
)

// OrderFilter narrows ListOrders. Zero values mean "any".
type OrderFilter struct {
	Status     *domain.OrderStatus
	CustomerID string
}

type OrderRepository interface {
	// CreateOrder persists a new order with its (usually empty) line items.
	CreateOrder(ctx context.Context, order *domain.ServiceOrder) error

	// GetOrder returns the order with its line items, or ErrOrderNotFound.
	// Soft-deleted orders are not returned.
	GetOrder(ctx context.Context, id string) (*domain.ServiceOrder, error)

	// ListOrders returns a snapshot of all non-deleted orders matching the
	// filter, newest first. Not part of any transaction.
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.ServiceOrder, error)

	// UpdateOrder writes the order and replaces its line items, guarded by
	// expectedVersion, and applies the given stock ops in the same
	// transaction. Any failure (ConcurrentModificationError,
	// InsufficientStockError, InvariantViolationError) leaves both the
	// order and the inventory untouched.
	UpdateOrder(ctx context.Context, order *domain.ServiceOrder, expectedVersion int64, ops []domain.StockOp) error

	// HasOpenOrdersForSKU reports whether any non-terminal order carries a
	// line item referencing the SKU. Used to guard catalog soft deletion.
	HasOpenOrdersForSKU(ctx context.Context, sku string) (bool, error)
}
