package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderExists      = errors.New("order already exists")
	ErrOrderClosed      = errors.New("order is closed")
	ErrLineItemNotFound = errors.New("line item not found")
	ErrSKUNotFound      = errors.New("sku not found")
	ErrSKUExists        = errors.New("sku already exists")
	ErrDuplicateRequest = errors.New("duplicate request")
)

// InsufficientStockError reports a reservation that would oversell a Part
// SKU. Available is current_quantity minus reserved_quantity at the time
// the reservation was attempted.
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// ConcurrentModificationError means the order changed between the caller's
// read and its write. The caller must re-read and retry; the core never
// retries on its own.
type ConcurrentModificationError struct {
	Expected int64
	Actual   int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification: expected version %d, actual %d", e.Expected, e.Actual)
}

// InvariantViolationError marks a caller/programming error such as
// committing stock that was never reserved. It is not recoverable.
type InvariantViolationError struct {
	SKU    string
	Op     string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation in %s on %s: %s", e.Op, e.SKU, e.Detail)
}
