package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/port"
)

// ErrItemInUse rejects soft deletion of an item still referenced by a
// non-terminal order's line items.
var ErrItemInUse = errors.New("inventory item is referenced by open orders")

// InventoryService manages the catalog side of inventory: item lifecycle
// and manual stock adjustments. Reservation movement belongs to the order
// commands; this service never touches reserved quantities directly.
type InventoryService struct {
	inventory port.InventoryRepository
	orders    port.OrderRepository
	cache     port.CacheRepository
	logger    *zap.Logger
}

func NewInventoryService(inventory port.InventoryRepository, orders port.OrderRepository, cache port.CacheRepository, logger *zap.Logger) *InventoryService {
	return &InventoryService{inventory: inventory, orders: orders, cache: cache, logger: logger}
}

type ItemInput struct {
	SKU             string // optional on create; generated when empty
	Name            string
	Description     string
	Kind            domain.ItemKind
	CostPrice       decimal.Decimal
	SalePrice       decimal.Decimal
	CurrentQuantity int
	MinQuantity     int
}

func (s *InventoryService) CreateItem(ctx context.Context, in ItemInput) (*domain.InventoryItem, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("item name is required")
	}
	if in.Kind == "" {
		in.Kind = domain.KindPart
	}
	if in.Kind != domain.KindPart && in.Kind != domain.KindService {
		return nil, fmt.Errorf("unknown item kind %q", in.Kind)
	}
	if in.CurrentQuantity < 0 || in.MinQuantity < 0 {
		return nil, fmt.Errorf("quantities must not be negative")
	}
	if in.Kind == domain.KindService {
		in.CurrentQuantity = 0
		in.MinQuantity = 0
	}

	sku := in.SKU
	if sku == "" {
		sku = uuid.NewString()
	}

	now := time.Now()
	item := &domain.InventoryItem{
		SKU:             sku,
		Name:            in.Name,
		Description:     in.Description,
		Kind:            in.Kind,
		CostPrice:       in.CostPrice,
		SalePrice:       in.SalePrice,
		CurrentQuantity: in.CurrentQuantity,
		MinQuantity:     in.MinQuantity,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.inventory.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	s.logger.Info("inventory item created",
		zap.String("sku", item.SKU),
		zap.String("kind", string(item.Kind)))
	return item, nil
}

// UpdateItem rewrites catalog fields. Stock counters and kind are
// untouched; captured line-item prices on existing orders keep their
// snapshots regardless of price changes here.
func (s *InventoryService) UpdateItem(ctx context.Context, sku string, in ItemInput) (*domain.InventoryItem, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("item name is required")
	}

	item, err := s.inventory.GetItem(ctx, sku)
	if err != nil {
		return nil, err
	}
	item.Name = in.Name
	item.Description = in.Description
	item.CostPrice = in.CostPrice
	item.SalePrice = in.SalePrice
	item.MinQuantity = in.MinQuantity

	if err := s.inventory.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return s.inventory.GetItem(ctx, sku)
}

// DeleteItem soft-deletes the item; historical line items keep a valid
// reference. Items still on an open order cannot be deleted.
func (s *InventoryService) DeleteItem(ctx context.Context, sku string) error {
	if _, err := s.inventory.GetItem(ctx, sku); err != nil {
		return err
	}
	inUse, err := s.orders.HasOpenOrdersForSKU(ctx, sku)
	if err != nil {
		return fmt.Errorf("check open orders: %w", err)
	}
	if inUse {
		return ErrItemInUse
	}
	if err := s.inventory.SoftDeleteItem(ctx, sku); err != nil {
		return err
	}
	s.logger.Info("inventory item deleted", zap.String("sku", sku))
	return nil
}

func (s *InventoryService) GetItem(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	return s.inventory.GetItem(ctx, sku)
}

func (s *InventoryService) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.inventory.ListItems(ctx)
}

// AdjustStock moves on-hand stock for goods receipt or stocktake
// corrections. The ledger refuses adjustments that would strand
// reservations.
func (s *InventoryService) AdjustStock(ctx context.Context, sku string, delta int) (*domain.InventoryItem, error) {
	if delta == 0 {
		return nil, fmt.Errorf("adjustment delta must not be zero")
	}
	if err := s.inventory.AdjustStock(ctx, sku, delta); err != nil {
		return nil, err
	}

	item, err := s.inventory.GetItem(ctx, sku)
	if err != nil {
		return nil, err
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
	if item.LowStock() {
		s.logger.Warn("stock at or below reorder threshold",
			zap.String("sku", item.SKU),
			zap.Int("current", item.CurrentQuantity),
			zap.Int("min", item.MinQuantity))
	}

	s.logger.Info("stock adjusted",
		zap.String("sku", sku),
		zap.Int("delta", delta),
		zap.Int("current", item.CurrentQuantity))
	return item, nil
}

// StockLevel serves the SKU's counters read-through from the snapshot
// cache. The snapshot may trail the ledger slightly.
func (s *InventoryService) StockLevel(ctx context.Context, sku string) (*port.StockSnapshot, error) {
	if snap, err := s.cache.GetStock(ctx, sku); err == nil && snap != nil {
		return snap, nil
	} else if err != nil {
		s.logger.Warn("stock cache read failed", zap.Error(err))
	}

	item, err := s.inventory.GetItem(ctx, sku)
	if err != nil {
		return nil, err
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
	return &snap, nil
}
