package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/port"
)

// ReportService derives the dashboard aggregates from the order and
// inventory stores. Reads are non-transactional snapshots.
type ReportService struct {
	orders    port.OrderRepository
	inventory port.InventoryRepository
}

func NewReportService(orders port.OrderRepository, inventory port.InventoryRepository) *ReportService {
	return &ReportService{orders: orders, inventory: inventory}
}

type Summary struct {
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	PartsInUseCost decimal.Decimal `json:"parts_in_use_cost"`
	ActiveOrders   int             `json:"active_orders"`
}

type RecentOrder struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customer_id"`
	Equipment  string             `json:"equipment"`
	Status     domain.OrderStatus `json:"status"`
	TotalPrice decimal.Decimal    `json:"total_price"`
	CreatedAt  string             `json:"created_at"`
}

type StatusCount struct {
	Status domain.OrderStatus `json:"status"`
	Count  int                `json:"count"`
}

type Dashboard struct {
	Summary       Summary                `json:"summary"`
	RecentOrders  []RecentOrder          `json:"recent_orders"`
	LowStockItems []domain.LowStockAlert `json:"low_stock_items"`
	StatusCounts  []StatusCount          `json:"status_counts"`
}

const recentOrderLimit = 5

// Dashboard builds the landing-page aggregates: revenue over completed
// orders, cost of parts held by open orders, low-stock alerts and the
// status breakdown.
func (s *ReportService) Dashboard(ctx context.Context) (*Dashboard, error) {
	orders, err := s.orders.ListOrders(ctx, port.OrderFilter{})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	items, err := s.inventory.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	costBySKU := make(map[string]decimal.Decimal, len(items))
	for i := range items {
		costBySKU[items[i].SKU] = items[i].CostPrice
	}

	d := &Dashboard{
		Summary: Summary{
			TotalRevenue:   decimal.Zero,
			PartsInUseCost: decimal.Zero,
		},
	}

	counts := make(map[domain.OrderStatus]int)
	for i := range orders {
		o := &orders[i]
		counts[o.Status]++

		switch {
		case o.Status == domain.StatusCompleted:
			d.Summary.TotalRevenue = d.Summary.TotalRevenue.Add(o.TotalPrice)
		case !o.Status.Terminal():
			d.Summary.ActiveOrders++
			for j := range o.LineItems {
				li := &o.LineItems[j]
				if li.Kind != domain.KindPart {
					continue
				}
				cost := costBySKU[li.SKU].Mul(decimal.NewFromInt(int64(li.Quantity)))
				d.Summary.PartsInUseCost = d.Summary.PartsInUseCost.Add(cost)
			}
		}

		if len(d.RecentOrders) < recentOrderLimit {
			d.RecentOrders = append(d.RecentOrders, RecentOrder{
				ID:         o.ID,
				CustomerID: o.CustomerID,
				Equipment:  o.Equipment,
				Status:     o.Status,
				TotalPrice: o.TotalPrice,
				CreatedAt:  o.CreatedAt.Format("2006-01-02 15:04"),
			})
		}
	}

	for _, status := range []domain.OrderStatus{
		domain.StatusQuote, domain.StatusInService, domain.StatusAwaitingPart,
		domain.StatusCompleted, domain.StatusCancelled,
	} {
		d.StatusCounts = append(d.StatusCounts, StatusCount{Status: status, Count: counts[status]})
	}

	for i := range items {
		if !items[i].LowStock() {
			continue
		}
		d.LowStockItems = append(d.LowStockItems, domain.LowStockAlert{
			SKU:     items[i].SKU,
			Name:    items[i].Name,
			Current: items[i].CurrentQuantity,
			Min:     items[i].MinQuantity,
		})
	}
	return d, nil
}
