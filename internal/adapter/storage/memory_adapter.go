package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/port"
)

var (
	_ port.OrderRepository     = (*MemoryAdapter)(nil)
	_ port.InventoryRepository = (*MemoryAdapter)(nil)
)

// MemoryAdapter is the in-process store. Orders and inventory items carry
// their own mutexes so that two orders touching different SKUs never
// contend; multi-SKU transitions take their item locks in SKU order to
// stay deadlock-free.
type MemoryAdapter struct {
	mu     sync.RWMutex
	orders map[string]*memOrder
	items  map[string]*memItem
}

type memOrder struct {
	mu    sync.Mutex
	order domain.ServiceOrder
}

type memItem struct {
	mu   sync.Mutex
	item domain.InventoryItem
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		orders: make(map[string]*memOrder),
		items:  make(map[string]*memItem),
	}
}

func cloneOrder(o *domain.ServiceOrder) *domain.ServiceOrder {
	c := *o
	c.LineItems = make([]domain.LineItem, len(o.LineItems))
	copy(c.LineItems, o.LineItems)
	if o.ClosedAt != nil {
		t := *o.ClosedAt
		c.ClosedAt = &t
	}
	if o.DeletedAt != nil {
		t := *o.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func cloneItem(i *domain.InventoryItem) *domain.InventoryItem {
	c := *i
	if i.DeletedAt != nil {
		t := *i.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func (m *MemoryAdapter) CreateOrder(ctx context.Context, order *domain.ServiceOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return domain.ErrOrderExists
	}
	m.orders[order.ID] = &memOrder{order: *cloneOrder(order)}
	return nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, id string) (*domain.ServiceOrder, error) {
	m.mu.RLock()
	rec, ok := m.orders[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.order.DeletedAt != nil {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(&rec.order), nil
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, filter port.OrderFilter) ([]domain.ServiceOrder, error) {
	m.mu.RLock()
	recs := make([]*memOrder, 0, len(m.orders))
	for _, rec := range m.orders {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	out := make([]domain.ServiceOrder, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		o := cloneOrder(&rec.order)
		rec.mu.Unlock()
		if o.DeletedAt != nil {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateOrder applies the stock ops and the order write as one atomic
// step: every op is validated under its SKU lock before anything is
// mutated, so a failure leaves both the ledger and the order untouched.
func (m *MemoryAdapter) UpdateOrder(ctx context.Context, order *domain.ServiceOrder, expectedVersion int64, ops []domain.StockOp) error {
	m.mu.RLock()
	rec, ok := m.orders[order.ID]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrOrderNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.order.DeletedAt != nil {
		return domain.ErrOrderNotFound
	}
	if rec.order.Version != expectedVersion {
		return &domain.ConcurrentModificationError{Expected: expectedVersion, Actual: rec.order.Version}
	}

	if err := m.applyOps(ops); err != nil {
		return err
	}

	rec.order = *cloneOrder(order)
	return nil
}

// applyOps locks every involved SKU in sorted order, validates the full
// set against staged counters, then applies.
func (m *MemoryAdapter) applyOps(ops []domain.StockOp) error {
	if len(ops) == 0 {
		return nil
	}

	skus := make([]string, 0, len(ops))
	seen := make(map[string]bool, len(ops))
	for _, op := range ops {
		if !seen[op.SKU] {
			seen[op.SKU] = true
			skus = append(skus, op.SKU)
		}
	}
	sort.Strings(skus)

	m.mu.RLock()
	locked := make([]*memItem, 0, len(skus))
	recs := make(map[string]*memItem, len(skus))
	for _, sku := range skus {
		rec, ok := m.items[sku]
		if !ok {
			m.mu.RUnlock()
			return domain.ErrSKUNotFound
		}
		recs[sku] = rec
	}
	m.mu.RUnlock()

	for _, sku := range skus {
		recs[sku].mu.Lock()
		locked = append(locked, recs[sku])
	}
	defer func() {
		for _, rec := range locked {
			rec.mu.Unlock()
		}
	}()

	staged := make(map[string]*domain.InventoryItem, len(skus))
	for sku, rec := range recs {
		if rec.item.DeletedAt != nil {
			return domain.ErrSKUNotFound
		}
		staged[sku] = cloneItem(&rec.item)
	}
	for _, op := range ops {
		if err := applyStockOp(staged[op.SKU], op); err != nil {
			return err
		}
	}

	now := time.Now()
	for sku, rec := range recs {
		staged[sku].Version++
		staged[sku].UpdatedAt = now
		rec.item = *staged[sku]
	}
	return nil
}

// applyStockOp mutates the item's counters in place, or reports why the
// op is not permitted.
func applyStockOp(item *domain.InventoryItem, op domain.StockOp) error {
	if item.Kind == domain.KindService {
		return nil
	}
	switch op.Kind {
	case domain.StockReserve:
		if item.Available() < op.Quantity {
			return &domain.InsufficientStockError{SKU: op.SKU, Requested: op.Quantity, Available: item.Available()}
		}
		item.ReservedQuantity += op.Quantity
	case domain.StockRelease:
		if item.ReservedQuantity < op.Quantity {
			return &domain.InvariantViolationError{SKU: op.SKU, Op: "release", Detail: "release exceeds reserved quantity"}
		}
		item.ReservedQuantity -= op.Quantity
	case domain.StockCommit:
		if item.ReservedQuantity < op.Quantity || item.CurrentQuantity < op.Quantity {
			return &domain.InvariantViolationError{SKU: op.SKU, Op: "commit", Detail: "commit exceeds reserved quantity"}
		}
		item.ReservedQuantity -= op.Quantity
		item.CurrentQuantity -= op.Quantity
	default:
		return &domain.InvariantViolationError{SKU: op.SKU, Op: string(op.Kind), Detail: "unknown stock op"}
	}
	return nil
}

func (m *MemoryAdapter) HasOpenOrdersForSKU(ctx context.Context, sku string) (bool, error) {
	m.mu.RLock()
	recs := make([]*memOrder, 0, len(m.orders))
	for _, rec := range m.orders {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	for _, rec := range recs {
		rec.mu.Lock()
		open := rec.order.DeletedAt == nil && !rec.order.Status.Terminal()
		var found bool
		if open {
			for i := range rec.order.LineItems {
				if rec.order.LineItems[i].SKU == sku {
					found = true
					break
				}
			}
		}
		rec.mu.Unlock()
		if found {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryAdapter) CreateItem(ctx context.Context, item *domain.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A soft-deleted record still owns its SKU; re-creating it would
	// resurrect counters behind the ledger's back.
	if _, ok := m.items[item.SKU]; ok {
		return domain.ErrSKUExists
	}
	m.items[item.SKU] = &memItem{item: *cloneItem(item)}
	return nil
}

func (m *MemoryAdapter) GetItem(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	rec, err := m.itemRecord(sku)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.item.DeletedAt != nil {
		return nil, domain.ErrSKUNotFound
	}
	return cloneItem(&rec.item), nil
}

func (m *MemoryAdapter) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	m.mu.RLock()
	recs := make([]*memItem, 0, len(m.items))
	for _, rec := range m.items {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	out := make([]domain.InventoryItem, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		it := cloneItem(&rec.item)
		rec.mu.Unlock()
		if it.DeletedAt != nil {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryAdapter) UpdateItem(ctx context.Context, item *domain.InventoryItem) error {
	rec, err := m.itemRecord(item.SKU)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.item.DeletedAt != nil {
		return domain.ErrSKUNotFound
	}
	// Catalog fields only; stock counters stay with the ledger.
	rec.item.Name = item.Name
	rec.item.Description = item.Description
	rec.item.CostPrice = item.CostPrice
	rec.item.SalePrice = item.SalePrice
	rec.item.MinQuantity = item.MinQuantity
	rec.item.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryAdapter) SoftDeleteItem(ctx context.Context, sku string) error {
	rec, err := m.itemRecord(sku)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.item.DeletedAt != nil {
		return domain.ErrSKUNotFound
	}
	now := time.Now()
	rec.item.DeletedAt = &now
	rec.item.UpdatedAt = now
	return nil
}

func (m *MemoryAdapter) Reserve(ctx context.Context, sku string, qty int) error {
	return m.applySingle(domain.StockOp{Kind: domain.StockReserve, SKU: sku, Quantity: qty})
}

func (m *MemoryAdapter) Release(ctx context.Context, sku string, qty int) error {
	return m.applySingle(domain.StockOp{Kind: domain.StockRelease, SKU: sku, Quantity: qty})
}

func (m *MemoryAdapter) Commit(ctx context.Context, sku string, qty int) error {
	return m.applySingle(domain.StockOp{Kind: domain.StockCommit, SKU: sku, Quantity: qty})
}

func (m *MemoryAdapter) AdjustStock(ctx context.Context, sku string, delta int) error {
	rec, err := m.itemRecord(sku)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.item.DeletedAt != nil {
		return domain.ErrSKUNotFound
	}
	if rec.item.Kind == domain.KindService {
		return &domain.InvariantViolationError{SKU: sku, Op: "adjust", Detail: "service items carry no stock"}
	}
	next := rec.item.CurrentQuantity + delta
	if next < 0 || next < rec.item.ReservedQuantity {
		return &domain.InvariantViolationError{SKU: sku, Op: "adjust", Detail: "adjustment below reserved quantity"}
	}
	rec.item.CurrentQuantity = next
	rec.item.Version++
	rec.item.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryAdapter) applySingle(op domain.StockOp) error {
	rec, err := m.itemRecord(op.SKU)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.item.DeletedAt != nil {
		return domain.ErrSKUNotFound
	}
	if err := applyStockOp(&rec.item, op); err != nil {
		return err
	}
	rec.item.Version++
	rec.item.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryAdapter) itemRecord(sku string) (*memItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.items[sku]
	if !ok {
		return nil, domain.ErrSKUNotFound
	}
	return rec, nil
}
