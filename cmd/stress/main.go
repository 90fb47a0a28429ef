// Command stress hammers the in-memory stack with concurrent orders
// competing for one scarce part, and verifies that exactly the available
// units are sold.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/opetsoft/workshop-core/internal/adapter/storage"
	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/core/service"
)

const (
	initialStock  = 20
	totalRequests = 200
)

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	store := storage.NewMemoryAdapter()
	cache := storage.NewMemoryCache()
	orders := service.NewOrderService(store, store, cache, logger, 100)
	inventory := service.NewInventoryService(store, store, cache, logger)
	defer orders.Close()

	go func() {
		for range orders.Alerts() {
		}
	}()

	item, err := inventory.CreateItem(ctx, service.ItemInput{
		Name:            "scarce part",
		Kind:            domain.KindPart,
		SalePrice:       decimal.RequireFromString("99.90"),
		CurrentQuantity: initialStock,
	})
	if err != nil {
		log.Fatalf("create item: %v", err)
	}

	var success, soldOut, other atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := orders.CreateOrder(ctx, service.CreateOrderInput{
				CustomerID:   uuid.NewString(),
				TechnicianID: "tech-1",
				Equipment:    "notebook",
			})
			if err != nil {
				other.Add(1)
				return
			}
			_, err = orders.AddLineItem(ctx, order.ID, item.SKU, 1)
			var insufficient *domain.InsufficientStockError
			switch {
			case err == nil:
				success.Add(1)
			case errors.As(err, &insufficient):
				soldOut.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	fmt.Printf("requests:   %d\n", totalRequests)
	fmt.Printf("reserved:   %d\n", success.Load())
	fmt.Printf("sold out:   %d\n", soldOut.Load())
	fmt.Printf("errors:     %d\n", other.Load())
	fmt.Printf("elapsed:    %s\n", time.Since(start))

	final, err := inventory.GetItem(ctx, item.SKU)
	if err != nil {
		log.Fatalf("get item: %v", err)
	}
	fmt.Printf("stock:      current=%d reserved=%d\n", final.CurrentQuantity, final.ReservedQuantity)

	if success.Load() != initialStock {
		log.Fatalf("oversell check failed: %d reservations for %d units", success.Load(), initialStock)
	}
	fmt.Println("oversell check passed")
}
