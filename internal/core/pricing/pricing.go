// Package pricing is the single computation path for order totals. Totals
// are derived from captured line-item prices, never recomputed from the
// current catalog.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/opetsoft/workshop-core/internal/core/domain"
)

// Total returns the sum of unit_price * quantity over all line items.
// Pure; the caller stores the result on the order after every mutation.
func Total(items []domain.LineItem) decimal.Decimal {
	total := decimal.Zero
	for i := range items {
		total = total.Add(items[i].Subtotal())
	}
	return total
}
