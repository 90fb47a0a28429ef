package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/core/pricing"
	"github.com/opetsoft/workshop-core/internal/port"
)

// OrderService is the aggregate boundary for service orders. Every
// command validates against the status state machine, delegates stock
// movement to the ledger and recomputes the total before reporting
// success. Mutations are optimistic: a version mismatch surfaces as
// ConcurrentModificationError and the caller re-reads and retries.
type OrderService struct {
	orders    port.OrderRepository
	inventory port.InventoryRepository
	cache     port.CacheRepository
	logger    *zap.Logger
	alerts    chan domain.LowStockAlert
}

func NewOrderService(orders port.OrderRepository, inventory port.InventoryRepository, cache port.CacheRepository, logger *zap.Logger, alertQueueSize int) *OrderService {
	return &OrderService{
		orders:    orders,
		inventory: inventory,
		cache:     cache,
		logger:    logger,
		alerts:    make(chan domain.LowStockAlert, alertQueueSize),
	}
}

type CreateOrderInput struct {
	RequestID    string // optional; replays with the same id are rejected
	CustomerID   string
	TechnicianID string
	Equipment    string
	Description  string
	ChecklistRef string
}

func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.ServiceOrder, error) {
	if in.CustomerID == "" || in.TechnicianID == "" || in.Equipment == "" {
		return nil, fmt.Errorf("customer, technician and equipment are required")
	}

	if in.RequestID != "" {
		key := "create-order:" + in.RequestID
		ok, err := s.cache.SetIdempotency(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
	}

	now := time.Now()
	order := &domain.ServiceOrder{
		ID:           uuid.NewString(),
		CustomerID:   in.CustomerID,
		TechnicianID: in.TechnicianID,
		Equipment:    in.Equipment,
		Description:  in.Description,
		ChecklistRef: in.ChecklistRef,
		Status:       domain.StatusQuote,
		TotalPrice:   pricing.Total(nil),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("customer_id", order.CustomerID))
	return order, nil
}

// AddLineItem reserves stock for the SKU, appends a line item capturing
// the current sale price and recomputes the total. On any failure the
// order and the ledger are left unchanged.
func (s *OrderService) AddLineItem(ctx context.Context, orderID, sku string, qty int) (*domain.LineItem, error) {
	if qty < 1 {
		return nil, fmt.Errorf("quantity must be at least 1")
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Editable() {
		return nil, domain.ErrOrderClosed
	}

	item, err := s.inventory.GetItem(ctx, sku)
	if err != nil {
		return nil, err
	}

	line := domain.LineItem{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		SKU:       item.SKU,
		Kind:      item.Kind,
		UnitPrice: item.SalePrice,
		Quantity:  qty,
		Position:  nextPosition(order.LineItems),
		CreatedAt: time.Now(),
	}

	expected := order.Version
	order.LineItems = append(order.LineItems, line)
	order.TotalPrice = pricing.Total(order.LineItems)
	order.Version++
	order.UpdatedAt = line.CreatedAt

	var ops []domain.StockOp
	if item.Kind == domain.KindPart {
		ops = append(ops, domain.StockOp{Kind: domain.StockReserve, SKU: sku, Quantity: qty})
	}

	if err := s.orders.UpdateOrder(ctx, order, expected, ops); err != nil {
		return nil, err
	}

	s.afterMutation(ctx, order.ID, sku)
	s.logger.Info("line item added",
		zap.String("order_id", order.ID),
		zap.String("sku", sku),
		zap.Int("quantity", qty))
	return &line, nil
}

// RemoveLineItem releases the line's reservation and drops the entry.
func (s *OrderService) RemoveLineItem(ctx context.Context, orderID, lineItemID string) error {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.Status.Editable() {
		return domain.ErrOrderClosed
	}

	idx := order.FindLineItem(lineItemID)
	if idx < 0 {
		return domain.ErrLineItemNotFound
	}
	line := order.LineItems[idx]

	expected := order.Version
	order.LineItems = append(order.LineItems[:idx], order.LineItems[idx+1:]...)
	order.TotalPrice = pricing.Total(order.LineItems)
	order.Version++
	order.UpdatedAt = time.Now()

	var ops []domain.StockOp
	if line.Kind == domain.KindPart {
		ops = append(ops, domain.StockOp{Kind: domain.StockRelease, SKU: line.SKU, Quantity: line.Quantity})
	}

	if err := s.orders.UpdateOrder(ctx, order, expected, ops); err != nil {
		return err
	}

	s.afterMutation(ctx, order.ID, line.SKU)
	s.logger.Info("line item removed",
		zap.String("order_id", order.ID),
		zap.String("line_item_id", lineItemID))
	return nil
}

// TransitionStatus moves the order through the state machine. Entering
// Cancelled releases every reservation; entering Completed commits them.
// The ledger effects land in the same transaction as the status write.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID string, target domain.OrderStatus, expectedVersion int64) (*domain.ServiceOrder, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Version != expectedVersion {
		return nil, &domain.ConcurrentModificationError{Expected: expectedVersion, Actual: order.Version}
	}
	if err := order.Status.CheckTransition(target); err != nil {
		return nil, err
	}

	var ops []domain.StockOp
	switch target {
	case domain.StatusCancelled:
		ops = order.PartLineOps(domain.StockRelease)
	case domain.StatusCompleted:
		ops = order.PartLineOps(domain.StockCommit)
	}

	from := order.Status
	order.Status = target
	order.Version++
	order.UpdatedAt = time.Now()
	if target.Terminal() {
		t := order.UpdatedAt
		order.ClosedAt = &t
	}

	if err := s.orders.UpdateOrder(ctx, order, expectedVersion, ops); err != nil {
		return nil, err
	}

	for _, op := range ops {
		s.afterMutation(ctx, order.ID, op.SKU)
	}
	if len(ops) == 0 {
		s.afterMutation(ctx, order.ID, "")
	}
	if target == domain.StatusCompleted {
		s.checkLowStock(ctx, ops)
	}

	s.logger.Info("order transitioned",
		zap.String("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)))
	return order, nil
}

// GetOrder serves read-through from the cache; a stale copy may be
// returned until the next mutation invalidates it.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.ServiceOrder, error) {
	if cached, err := s.cache.GetOrder(ctx, orderID); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("order cache read failed", zap.Error(err))
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetOrder(ctx, order); err != nil {
		s.logger.Warn("order cache write failed", zap.Error(err))
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter port.OrderFilter) ([]domain.ServiceOrder, error) {
	return s.orders.ListOrders(ctx, filter)
}

// Alerts exposes the low-stock queue consumed by the worker pool.
func (s *OrderService) Alerts() <-chan domain.LowStockAlert {
	return s.alerts
}

func (s *OrderService) Close() {
	close(s.alerts)
}

// afterMutation drops the cached order and refreshes the SKU's stock
// snapshot. Best effort: cache failures never fail the command.
func (s *OrderService) afterMutation(ctx context.Context, orderID, sku string) {
	if err := s.cache.InvalidateOrder(ctx, orderID); err != nil {
		s.logger.Warn("order cache invalidation failed", zap.Error(err))
	}
	if sku == "" {
		return
	}
	item, err := s.inventory.GetItem(ctx, sku)
	if err != nil {
		return
	}
	snap := port.StockSnapshot{
		SKU:      item.SKU,
		Current:  item.CurrentQuantity,
		Reserved: item.ReservedQuantity,
		Version:  item.Version,
	}
	if err := s.cache.SetStock(ctx, snap); err != nil {
		s.logger.Warn("stock snapshot write failed", zap.Error(err))
	}
}

// checkLowStock enqueues an alert for every committed SKU that landed at
// or below its reorder threshold. The send never blocks; when the queue
// is full the alert is dropped and logged.
func (s *OrderService) checkLowStock(ctx context.Context, ops []domain.StockOp) {
	for _, op := range ops {
		item, err := s.inventory.GetItem(ctx, op.SKU)
		if err != nil || !item.LowStock() {
			continue
		}
		alert := domain.LowStockAlert{
			SKU:     item.SKU,
			Name:    item.Name,
			Current: item.CurrentQuantity,
			Min:     item.MinQuantity,
		}
		select {
		case s.alerts <- alert:
		default:
			s.logger.Warn("low stock alert dropped", zap.String("sku", item.SKU))
		}
	}
}

func nextPosition(items []domain.LineItem) int {
	if len(items) == 0 {
		return 0
	}
	return items[len(items)-1].Position + 1
}
