package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemKind string

const (
	KindPart    ItemKind = "part"
	KindService ItemKind = "service"
)

// InventoryItem is one catalog entry. Part items carry finite stock;
// Service items are always available and never touch the ledger.
type InventoryItem struct {
	SKU              string
	Name             string
	Description      string
	Kind             ItemKind
	CostPrice        decimal.Decimal
	SalePrice        decimal.Decimal
	CurrentQuantity  int // on-hand units
	ReservedQuantity int // units held by open orders
	MinQuantity      int   // reorder threshold
	Version          int64 // bumped on every stock movement
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// Available is the stock a new reservation may claim.
func (i *InventoryItem) Available() int {
	return i.CurrentQuantity - i.ReservedQuantity
}

func (i *InventoryItem) LowStock() bool {
	return i.Kind == KindPart && i.CurrentQuantity <= i.MinQuantity
}

type StockOpKind string

const (
	StockReserve StockOpKind = "reserve"
	StockRelease StockOpKind = "release"
	StockCommit  StockOpKind = "commit"
)

// StockOp is one ledger effect applied atomically with an order mutation.
type StockOp struct {
	Kind     StockOpKind
	SKU      string
	Quantity int
}

// LowStockAlert is emitted when a commit drives a Part SKU to or below its
// reorder threshold.
type LowStockAlert struct {
	SKU     string
	Name    string
	Current int
	Min     int
}
