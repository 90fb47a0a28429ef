package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one priced entry on a service order. UnitPrice is the sale
// price captured when the item was added; later catalog changes never
// touch it.
type LineItem struct {
	ID        string
	OrderID   string
	SKU       string
	Kind      ItemKind
	UnitPrice decimal.Decimal
	Quantity  int
	Position  int
	CreatedAt time.Time
}

func (l *LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ServiceOrder is the aggregate root. It exclusively owns its line items;
// customer, technician and checklist references are opaque to the core.
type ServiceOrder struct {
	ID           string
	CustomerID   string
	TechnicianID string
	Equipment    string
	Description  string
	Status       OrderStatus
	ChecklistRef string
	LineItems    []LineItem
	TotalPrice   decimal.Decimal
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
	DeletedAt    *time.Time
}

// FindLineItem returns the index of the line item with the given id, or -1.
func (o *ServiceOrder) FindLineItem(lineItemID string) int {
	for i := range o.LineItems {
		if o.LineItems[i].ID == lineItemID {
			return i
		}
	}
	return -1
}

// PartLineOps builds one ledger op of the given kind for every Part line
// item on the order. Service lines carry no stock and are skipped.
func (o *ServiceOrder) PartLineOps(kind StockOpKind) []StockOp {
	var ops []StockOp
	for i := range o.LineItems {
		if o.LineItems[i].Kind != KindPart {
			continue
		}
		ops = append(ops, StockOp{Kind: kind, SKU: o.LineItems[i].SKU, Quantity: o.LineItems[i].Quantity})
	}
	return ops
}
