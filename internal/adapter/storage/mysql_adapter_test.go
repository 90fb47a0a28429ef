package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opetsoft/workshop-core/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/workshop?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	return db
}

func newMySQLAdapter(t *testing.T) *MySQLAdapter {
	db := getMySQLDB(t)
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db)
	if err := adapter.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return adapter
}

func seedMySQLPart(t *testing.T, adapter *MySQLAdapter, qty int) *domain.InventoryItem {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	item := &domain.InventoryItem{
		SKU:             uuid.NewString(),
		Name:            "test part " + uuid.NewString()[:8],
		Kind:            domain.KindPart,
		CostPrice:       decimal.RequireFromString("10.00"),
		SalePrice:       decimal.RequireFromString("25.00"),
		CurrentQuantity: qty,
		MinQuantity:     1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := adapter.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("seed part: %v", err)
	}
	return item
}

func seedMySQLService(t *testing.T, adapter *MySQLAdapter) *domain.InventoryItem {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	item := &domain.InventoryItem{
		SKU:       uuid.NewString(),
		Name:      "labor " + uuid.NewString()[:8],
		Kind:      domain.KindService,
		SalePrice: decimal.RequireFromString("150.00"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := adapter.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("seed service item: %v", err)
	}
	return item
}

func seedMySQLOrder(t *testing.T, adapter *MySQLAdapter) *domain.ServiceOrder {
	t.Helper()
	now := time.Now().Truncate(time.Second)
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
	if err := adapter.CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func TestMySQLReserve(t *testing.T) {
	adapter := newMySQLAdapter(t)
	ctx := context.Background()
	part := seedMySQLPart(t, adapter, 10)

	if err := adapter.Reserve(ctx, part.SKU, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	got, err := adapter.GetItem(ctx, part.SKU)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentQuantity != 10 || got.ReservedQuantity != 3 {
		t.Errorf("counters = %d/%d, want 10/3", got.CurrentQuantity, got.ReservedQuantity)
	}
	if got.Version != part.Version+1 {
		t.Errorf("version = %d, want %d", got.Version, part.Version+1)
	}
}

func TestMySQLReserve_Insufficient(t *testing.T) {
	adapter := newMySQLAdapter(t)
	ctx := context.Background()
	part := seedMySQLPart(t, adapter, 2)

	err := adapter.Reserve(ctx, part.SKU, 5)
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Available != 2 || insufficient.Requested != 5 {
		t.Errorf("error carries %d/%d, want available 2 requested 5", insufficient.Available, insufficient.Requested)
	}

	got, _ := adapter.GetItem(ctx, part.SKU)
	if got.ReservedQuantity != 0 {
		t.Errorf("refused reserve must not move counters, reserved = %d", got.ReservedQuantity)
	}
}

func TestMySQLReserve_UnknownSKU(t *testing.T) {
	adapter := newMySQLAdapter(t)

	err := adapter.Reserve(context.Background(), uuid.NewString(), 1)
	if !errors.Is(err, domain.ErrSKUNotFound) {
		t.Fatalf("expected ErrSKUNotFound, got %v", err)
	}
}

func TestMySQLReleaseAndCommit(t *testing.T) {
	adapter := newMySQLAdapter(t)
	ctx := context.Background()
	part := seedMySQLPart(t, adapter, 10)

	if err := adapter.Reserve(ctx, part.SKU, 6); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := adapter.Release(ctx, part.SKU, 2); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := adapter.Commit(ctx, part.SKU, 4); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := adapter.GetItem(ctx, part.SKU)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentQuantity != 6 || got.ReservedQuantity != 0 {
		t.Errorf("counters = %d/%d, want 6/0", got.CurrentQuantity, got.ReservedQuantity)
	}
}

func TestMySQLRelease_ExceedsReserved(t *testing.T) {
	adapter := newMySQLAdapter(t)
	ctx := context.Background()
	part := seedMySQLPart(t, adapter, 10)

	if err := adapter.Reserve(ctx, part.SKU, 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err := adapter.Release(ctx, part.SKU, 2)
	var violation *domain.InvariantViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected InvariantViolationError, got %v", err)
	}
}

func TestMySQLConcurrentReserve_NoOversell(t *testing.T) {
	adapter := newMySQLAdapter(t)
	ctx := context.Background()

	const stock = 10
	const workers = 50
	part := seedMySQLPart(t, adapter, stock)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- adapter.Reserve(ctx, part.SKU, 1)
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		default:
			var insufficient *domain.InsufficientStockError
			if !errors.As(err, &insufficient) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	}
	if succeeded != stock {
		t.Errorf("%d reserves succeeded for %d units", succeeded, stock)
	}

	got, _ := adapter.GetItem(ctx, part.SKU)
	if got.ReservedQuantity != stock {
		t.Errorf("reserved = %d, want %d", got.ReservedQuantity, stock)
	}
}

func TestMySQLUpdateOrder_VersionConflict(t *testing.T) {
	adapter := newMySQLAdapter(t)
	ctx := context.Background()
	order := seedMySQLOrder(t, adapter)

	order.Version = 2
	order.UpdatedAt = time.Now().Truncate(time.Second)
	if err := adapter.UpdateOrder(ctx, order, 1, nil); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Replay against the consumed version.
	order.Version = 2
	err := adapter.UpdateOrder(ctx, order, 1, nil)
	var conflict *domain.ConcurrentModificationError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConcurrentModificationError, got %v", err)
	}
	if conflict.Expected != 1 || conflict.Actual != 2 {
		t.Errorf("conflict carries %d/%d, want expected 1 actual 2", conflict.Expected, conflict.Actual)
	}
}

func TestMySQLUpdateOrder_FailedOpRollsBack(t *testing.T) {
	adapter := newMySQLAdapter(t)
	ctx := context.Background()
	part := seedMySQLPart(t, adapter, 1)
	order := seedMySQLOrder(t, adapter)

	order.Version = 2
	order.UpdatedAt = time.Now().Truncate(time.Second)
	err := adapter.UpdateOrder(ctx, order, 1, []domain.StockOp{
		{Kind: domain.StockReserve, SKU: part.SKU, Quantity: 5},
	})
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	// Order write must be rolled back along with the refused op.
	got, err := adapter.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("order version = %d after rollback, want 1", got.Version)
	}
	item, _ := adapter.GetItem(ctx, part.SKU)
	if item.ReservedQuantity != 0 {
		t.Errorf("reserved = %d after rollback, want 0", item.ReservedQuantity)
	}
}

func TestMySQLCreateItem_DuplicateSKU(t *testing.T) {
	adapter := newMySQLAdapter(t)
	ctx := context.Background()
	part := seedMySQLPart(t, adapter, 5)

	if err := adapter.Reserve(ctx, part.SKU, 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	dup := *part
	dup.CurrentQuantity = 99
	if err := adapter.CreateItem(ctx, &dup); !errors.Is(err, domain.ErrSKUExists) {
		t.Fatalf("expected ErrSKUExists, got %v", err)
	}

	got, err := adapter.GetItem(ctx, part.SKU)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentQuantity != 5 || got.ReservedQuantity != 2 {
		t.Errorf("counters = %d/%d after refused create, want 5/2", got.CurrentQuantity, got.ReservedQuantity)
	}
}

func TestMySQLCreateOrder_DuplicateID(t *testing.T) {
	adapter := newMySQLAdapter(t)
	order := seedMySQLOrder(t, adapter)

	err := adapter.CreateOrder(context.Background(), order)
	if !errors.Is(err, domain.ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists, got %v", err)
	}
}

func TestMySQLAdjustStock_ServiceKind(t *testing.T) {
	adapter := newMySQLAdapter(t)
	svc := seedMySQLService(t, adapter)

	err := adapter.AdjustStock(context.Background(), svc.SKU, 5)
	var violation *domain.InvariantViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected InvariantViolationError, got %v", err)
	}
	if violation.Op != "adjust" {
		t.Errorf("op = %q, want adjust", violation.Op)
	}
}

func TestMySQLSoftDeleteItem(t *testing.T) {
	adapter := newMySQLAdapter(t)
	ctx := context.Background()
	part := seedMySQLPart(t, adapter, 3)

	if err := adapter.SoftDeleteItem(ctx, part.SKU); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := adapter.GetItem(ctx, part.SKU); !errors.Is(err, domain.ErrSKUNotFound) {
		t.Fatalf("expected ErrSKUNotFound after delete, got %v", err)
	}
	if err := adapter.Reserve(ctx, part.SKU, 1); !errors.Is(err, domain.ErrSKUNotFound) {
		t.Fatalf("deleted item must not accept reserves, got %v", err)
	}
}

func TestMySQLAdjustStock_Guard(t *testing.T) {
	adapter := newMySQLAdapter(t)
	ctx := context.Background()
	part := seedMySQLPart(t, adapter, 5)

	if err := adapter.Reserve(ctx, part.SKU, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err := adapter.AdjustStock(ctx, part.SKU, -4)
	var violation *domain.InvariantViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected InvariantViolationError, got %v", err)
	}

	if err := adapter.AdjustStock(ctx, part.SKU, -2); err != nil {
		t.Fatalf("adjust to the reserved floor: %v", err)
	}
	got, _ := adapter.GetItem(ctx, part.SKU)
	if got.CurrentQuantity != 3 {
		t.Errorf("current = %d, want 3", got.CurrentQuantity)
	}
}
