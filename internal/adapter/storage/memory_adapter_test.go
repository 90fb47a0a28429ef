package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/port"
)

func seedMemoryPart(t *testing.T, m *MemoryAdapter, qty int) *domain.InventoryItem {
	t.Helper()
	now := time.Now()
	item := &domain.InventoryItem{
		SKU:             uuid.NewString(),
		Name:            "part",
		Kind:            domain.KindPart,
		CostPrice:       decimal.RequireFromString("10.00"),
		SalePrice:       decimal.RequireFromString("25.00"),
		CurrentQuantity: qty,
		MinQuantity:     1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, m.CreateItem(context.Background(), item))
	return item
}

func seedMemoryService(t *testing.T, m *MemoryAdapter) *domain.InventoryItem {
	t.Helper()
	now := time.Now()
	item := &domain.InventoryItem{
		SKU:       uuid.NewString(),
		Name:      "labor",
		Kind:      domain.KindService,
		SalePrice: decimal.RequireFromString("150.00"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, m.CreateItem(context.Background(), item))
	return item
}

func seedMemoryOrder(t *testing.T, m *MemoryAdapter) *domain.ServiceOrder {
	t.Helper()
	now := time.Now()
	order := &domain.ServiceOrder{
		ID:           uuid.NewString(),
		CustomerID:   "cust-1",
		TechnicianID: "tech-1",
		Equipment:    "notebook",
		Status:       domain.StatusQuote,
		TotalPrice:   decimal.Zero,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, m.CreateOrder(context.Background(), order))
	return order
}

func TestMemoryReserveReleaseCommit(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	part := seedMemoryPart(t, m, 10)

	require.NoError(t, m.Reserve(ctx, part.SKU, 6))
	require.NoError(t, m.Release(ctx, part.SKU, 2))
	require.NoError(t, m.Commit(ctx, part.SKU, 4))

	got, err := m.GetItem(ctx, part.SKU)
	require.NoError(t, err)
	assert.Equal(t, 6, got.CurrentQuantity)
	assert.Zero(t, got.ReservedQuantity)
	assert.Equal(t, int64(3), got.Version, "each op bumps the version")
}

func TestMemoryReserve_Insufficient(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	part := seedMemoryPart(t, m, 2)

	err := m.Reserve(ctx, part.SKU, 5)
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Available)
	assert.Equal(t, 5, insufficient.Requested)

	got, _ := m.GetItem(ctx, part.SKU)
	assert.Zero(t, got.ReservedQuantity, "refused reserve must not move counters")
}

func TestMemoryRelease_ExceedsReserved(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	part := seedMemoryPart(t, m, 10)

	require.NoError(t, m.Reserve(ctx, part.SKU, 1))

	var violation *domain.InvariantViolationError
	assert.ErrorAs(t, m.Release(ctx, part.SKU, 2), &violation)
	assert.ErrorAs(t, m.Commit(ctx, part.SKU, 2), &violation)
}

func TestMemoryStockOps_UnknownSKU(t *testing.T) {
	m := NewMemoryAdapter()
	assert.ErrorIs(t, m.Reserve(context.Background(), "ghost", 1), domain.ErrSKUNotFound)
}

func TestMemoryUpdateOrder_VersionConflict(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	order := seedMemoryOrder(t, m)

	order.Version = 2
	require.NoError(t, m.UpdateOrder(ctx, order, 1, nil))

	err := m.UpdateOrder(ctx, order, 1, nil)
	var conflict *domain.ConcurrentModificationError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(2), conflict.Actual)
}

func TestMemoryUpdateOrder_FailedOpLeavesBothUntouched(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	good := seedMemoryPart(t, m, 10)
	short := seedMemoryPart(t, m, 1)
	order := seedMemoryOrder(t, m)

	// The second op fails validation, so the first must not land either.
	order.Version = 2
	err := m.UpdateOrder(ctx, order, 1, []domain.StockOp{
		{Kind: domain.StockReserve, SKU: good.SKU, Quantity: 3},
		{Kind: domain.StockReserve, SKU: short.SKU, Quantity: 5},
	})
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	gotGood, _ := m.GetItem(ctx, good.SKU)
	assert.Zero(t, gotGood.ReservedQuantity)
	gotOrder, _ := m.GetOrder(ctx, order.ID)
	assert.Equal(t, int64(1), gotOrder.Version)
}

func TestMemoryUpdateOrder_MultiSKUAtomic(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	a := seedMemoryPart(t, m, 5)
	b := seedMemoryPart(t, m, 5)
	order := seedMemoryOrder(t, m)

	order.Version = 2
	require.NoError(t, m.UpdateOrder(ctx, order, 1, []domain.StockOp{
		{Kind: domain.StockReserve, SKU: a.SKU, Quantity: 2},
		{Kind: domain.StockReserve, SKU: b.SKU, Quantity: 3},
	}))

	gotA, _ := m.GetItem(ctx, a.SKU)
	gotB, _ := m.GetItem(ctx, b.SKU)
	assert.Equal(t, 2, gotA.ReservedQuantity)
	assert.Equal(t, 3, gotB.ReservedQuantity)
}

func TestMemoryConcurrentReserve_NoOversell(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()

	const stock = 10
	const workers = 100
	part := seedMemoryPart(t, m, stock)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Reserve(ctx, part.SKU, 1)
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, stock, succeeded)

	got, _ := m.GetItem(ctx, part.SKU)
	assert.Equal(t, stock, got.ReservedQuantity)
	assert.Equal(t, stock, got.CurrentQuantity)
}

func TestMemoryCreateItem_DuplicateSKU(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	part := seedMemoryPart(t, m, 5)

	require.NoError(t, m.Reserve(ctx, part.SKU, 2))

	dup := *part
	dup.CurrentQuantity = 99
	assert.ErrorIs(t, m.CreateItem(ctx, &dup), domain.ErrSKUExists)

	// The stored record and its held reservations survive untouched.
	got, err := m.GetItem(ctx, part.SKU)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CurrentQuantity)
	assert.Equal(t, 2, got.ReservedQuantity)
}

func TestMemoryCreateItem_DeletedSKUKeepsItsKey(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	part := seedMemoryPart(t, m, 5)

	require.NoError(t, m.SoftDeleteItem(ctx, part.SKU))
	assert.ErrorIs(t, m.CreateItem(ctx, part), domain.ErrSKUExists)
}

func TestMemoryCreateOrder_DuplicateID(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	order := seedMemoryOrder(t, m)

	dup := *order
	dup.CustomerID = "cust-2"
	assert.ErrorIs(t, m.CreateOrder(ctx, &dup), domain.ErrOrderExists)

	got, err := m.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", got.CustomerID)
}

func TestMemoryUpdateOrder_OpsRefuseDeletedSKU(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	part := seedMemoryPart(t, m, 5)
	order := seedMemoryOrder(t, m)

	require.NoError(t, m.SoftDeleteItem(ctx, part.SKU))

	order.Version = 2
	err := m.UpdateOrder(ctx, order, 1, []domain.StockOp{
		{Kind: domain.StockReserve, SKU: part.SKU, Quantity: 1},
	})
	assert.ErrorIs(t, err, domain.ErrSKUNotFound)

	got, _ := m.GetOrder(ctx, order.ID)
	assert.Equal(t, int64(1), got.Version, "refused op must not land the order write")
}

func TestMemoryAdjustStock_ServiceKind(t *testing.T) {
	m := NewMemoryAdapter()
	svc := seedMemoryService(t, m)

	err := m.AdjustStock(context.Background(), svc.SKU, 5)
	var violation *domain.InvariantViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "adjust", violation.Op)

	got, _ := m.GetItem(context.Background(), svc.SKU)
	assert.Zero(t, got.CurrentQuantity)
}

func TestMemorySoftDeleteItem(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	part := seedMemoryPart(t, m, 3)

	require.NoError(t, m.SoftDeleteItem(ctx, part.SKU))

	_, err := m.GetItem(ctx, part.SKU)
	assert.ErrorIs(t, err, domain.ErrSKUNotFound)
	assert.ErrorIs(t, m.Reserve(ctx, part.SKU, 1), domain.ErrSKUNotFound)

	items, err := m.ListItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryListOrders_FilterAndOrder(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()

	first := seedMemoryOrder(t, m)
	second := seedMemoryOrder(t, m)
	second.CustomerID = "cust-2"
	second.Status = domain.StatusInService
	second.Version = 2
	require.NoError(t, m.UpdateOrder(ctx, second, 1, nil))

	status := domain.StatusInService
	filtered, err := m.ListOrders(ctx, port.OrderFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, second.ID, filtered[0].ID)

	byCustomer, err := m.ListOrders(ctx, port.OrderFilter{CustomerID: "cust-1"})
	require.NoError(t, err)
	require.Len(t, byCustomer, 1)
	assert.Equal(t, first.ID, byCustomer[0].ID)
}

func TestMemoryGetOrder_ReturnsCopy(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	order := seedMemoryOrder(t, m)

	got, err := m.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	got.CustomerID = "mutated"

	again, err := m.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", again.CustomerID, "callers must not reach the stored record")
}
