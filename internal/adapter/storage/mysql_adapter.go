package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/port"
)

var (
	_ port.OrderRepository     = (*MySQLAdapter)(nil)
	_ port.InventoryRepository = (*MySQLAdapter)(nil)
)

// schema is applied at startup. Stock counters are only ever moved through
// conditional UPDATEs, so a row can never go negative even under
// concurrent writers.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		sku               VARCHAR(36) PRIMARY KEY,
		name              VARCHAR(255) NOT NULL,
		description       TEXT,
		kind              ENUM('part','service') NOT NULL DEFAULT 'part',
		cost_price        DECIMAL(12,2) NOT NULL DEFAULT 0,
		sale_price        DECIMAL(12,2) NOT NULL DEFAULT 0,
		current_quantity  INT NOT NULL DEFAULT 0,
		reserved_quantity INT NOT NULL DEFAULT 0,
		min_quantity      INT NOT NULL DEFAULT 0,
		version           BIGINT NOT NULL DEFAULT 0,
		created_at        DATETIME NOT NULL,
		updated_at        DATETIME NOT NULL,
		deleted_at        DATETIME NULL
	)`,
	`CREATE TABLE IF NOT EXISTS service_orders (
		id            VARCHAR(36) PRIMARY KEY,
		customer_id   VARCHAR(36) NOT NULL,
		technician_id VARCHAR(36) NOT NULL,
		equipment     VARCHAR(255) NOT NULL,
		description   TEXT,
		status        VARCHAR(20) NOT NULL,
		checklist_ref VARCHAR(36) NULL,
		total_price   DECIMAL(12,2) NOT NULL DEFAULT 0,
		version       BIGINT NOT NULL,
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL,
		closed_at     DATETIME NULL,
		deleted_at    DATETIME NULL,
		INDEX idx_orders_status (status),
		INDEX idx_orders_customer (customer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS line_items (
		id         VARCHAR(36) PRIMARY KEY,
		order_id   VARCHAR(36) NOT NULL,
		sku        VARCHAR(36) NOT NULL,
		kind       ENUM('part','service') NOT NULL DEFAULT 'part',
		unit_price DECIMAL(12,2) NOT NULL,
		quantity   INT NOT NULL,
		position   INT NOT NULL,
		created_at DATETIME NOT NULL,
		INDEX idx_line_items_order (order_id),
		INDEX idx_line_items_sku (sku),
		CONSTRAINT fk_line_items_order FOREIGN KEY (order_id) REFERENCES service_orders (id)
	)`,
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order *domain.ServiceOrder) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertOrderRow(ctx, tx, order); err != nil {
		return err
	}
	if err := insertLineItems(ctx, tx, order); err != nil {
		return err
	}
	return tx.Commit()
}

func insertOrderRow(ctx context.Context, tx *sql.Tx, order *domain.ServiceOrder) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO service_orders
			(id, customer_id, technician_id, equipment, description, status,
			 checklist_ref, total_price, version, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.CustomerID, order.TechnicianID, order.Equipment,
		order.Description, order.Status, nullString(order.ChecklistRef),
		order.TotalPrice, order.Version, order.CreatedAt, order.UpdatedAt,
		nullTime(order.ClosedAt),
	)
	if isDuplicateKey(err) {
		return domain.ErrOrderExists
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// isDuplicateKey reports a primary key collision (MySQL error 1062).
func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func insertLineItems(ctx context.Context, tx *sql.Tx, order *domain.ServiceOrder) error {
	for i := range order.LineItems {
		li := &order.LineItems[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO line_items (id, order_id, sku, kind, unit_price, quantity, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			li.ID, li.OrderID, li.SKU, li.Kind, li.UnitPrice, li.Quantity, li.Position, li.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (*domain.ServiceOrder, error) {
	order, err := scanOrder(m.db.QueryRowContext(ctx, `
		SELECT id, customer_id, technician_id, equipment, description, status,
		       checklist_ref, total_price, version, created_at, updated_at, closed_at
		FROM service_orders WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if err := m.loadLineItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (m *MySQLAdapter) loadLineItems(ctx context.Context, order *domain.ServiceOrder) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, order_id, sku, kind, unit_price, quantity, position, created_at
		FROM line_items WHERE order_id = ? ORDER BY position`, order.ID)
	if err != nil {
		return fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var li domain.LineItem
		if err := rows.Scan(&li.ID, &li.OrderID, &li.SKU, &li.Kind, &li.UnitPrice, &li.Quantity, &li.Position, &li.CreatedAt); err != nil {
			return fmt.Errorf("scan line item: %w", err)
		}
		order.LineItems = append(order.LineItems, li)
	}
	return rows.Err()
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, filter port.OrderFilter) ([]domain.ServiceOrder, error) {
	query := `
		SELECT id, customer_id, technician_id, equipment, description, status,
		       checklist_ref, total_price, version, created_at, updated_at, closed_at
		FROM service_orders WHERE deleted_at IS NULL`
	var args []any
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}
	if filter.CustomerID != "" {
		query += " AND customer_id = ?"
		args = append(args, filter.CustomerID)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.ServiceOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		if err := m.loadLineItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.ServiceOrder, error) {
	var (
		order     domain.ServiceOrder
		checklist sql.NullString
		closedAt  sql.NullTime
	)
	err := row.Scan(&order.ID, &order.CustomerID, &order.TechnicianID,
		&order.Equipment, &order.Description, &order.Status, &checklist,
		&order.TotalPrice, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		&closedAt)
	if err != nil {
		return nil, err
	}
	order.ChecklistRef = checklist.String
	if closedAt.Valid {
		t := closedAt.Time
		order.ClosedAt = &t
	}
	return &order, nil
}

// UpdateOrder is one transaction: the version-guarded order write, the
// line-item rewrite and every stock op either all land or none do.
func (m *MySQLAdapter) UpdateOrder(ctx context.Context, order *domain.ServiceOrder, expectedVersion int64, ops []domain.StockOp) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE service_orders
		SET customer_id = ?, technician_id = ?, equipment = ?, description = ?,
		    status = ?, checklist_ref = ?, total_price = ?, version = ?,
		    updated_at = ?, closed_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		order.CustomerID, order.TechnicianID, order.Equipment, order.Description,
		order.Status, nullString(order.ChecklistRef), order.TotalPrice,
		order.Version, order.UpdatedAt, nullTime(order.ClosedAt),
		order.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var actual int64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM service_orders WHERE id = ? AND deleted_at IS NULL`,
			order.ID).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("query order version: %w", err)
		}
		return &domain.ConcurrentModificationError{Expected: expectedVersion, Actual: actual}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE order_id = ?`, order.ID); err != nil {
		return fmt.Errorf("delete line items: %w", err)
	}
	if err := insertLineItems(ctx, tx, order); err != nil {
		return err
	}

	for _, op := range ops {
		if err := applyStockOpSQL(ctx, tx, op); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// applyStockOpSQL moves one SKU's counters through a conditional UPDATE;
// RowsAffected()==0 means the predicate refused the movement.
func applyStockOpSQL(ctx context.Context, db execer, op domain.StockOp) error {
	var (
		result sql.Result
		err    error
	)
	switch op.Kind {
	case domain.StockReserve:
		result, err = db.ExecContext(ctx, `
			UPDATE inventory_items
			SET reserved_quantity = reserved_quantity + ?, version = version + 1, updated_at = NOW()
			WHERE sku = ? AND kind = 'part' AND deleted_at IS NULL
			  AND current_quantity - reserved_quantity >= ?`,
			op.Quantity, op.SKU, op.Quantity)
	case domain.StockRelease:
		result, err = db.ExecContext(ctx, `
			UPDATE inventory_items
			SET reserved_quantity = reserved_quantity - ?, version = version + 1, updated_at = NOW()
			WHERE sku = ? AND kind = 'part' AND deleted_at IS NULL
			  AND reserved_quantity >= ?`,
			op.Quantity, op.SKU, op.Quantity)
	case domain.StockCommit:
		result, err = db.ExecContext(ctx, `
			UPDATE inventory_items
			SET current_quantity = current_quantity - ?, reserved_quantity = reserved_quantity - ?,
			    version = version + 1, updated_at = NOW()
			WHERE sku = ? AND kind = 'part' AND deleted_at IS NULL
			  AND reserved_quantity >= ? AND current_quantity >= ?`,
			op.Quantity, op.Quantity, op.SKU, op.Quantity, op.Quantity)
	default:
		return &domain.InvariantViolationError{SKU: op.SKU, Op: string(op.Kind), Detail: "unknown stock op"}
	}
	if err != nil {
		return fmt.Errorf("%s stock: %w", op.Kind, err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}
	return classifyStockRefusal(ctx, db, op)
}

// classifyStockRefusal distinguishes a missing SKU, a service item (no-op)
// and a genuine predicate failure after a zero-row conditional update.
func classifyStockRefusal(ctx context.Context, db execer, op domain.StockOp) error {
	var (
		kind      domain.ItemKind
		available int
	)
	err := db.QueryRowContext(ctx, `
		SELECT kind, current_quantity - reserved_quantity
		FROM inventory_items WHERE sku = ? AND deleted_at IS NULL`,
		op.SKU).Scan(&kind, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSKUNotFound
	}
	if err != nil {
		return fmt.Errorf("query stock: %w", err)
	}
	if kind == domain.KindService {
		return nil
	}
	if op.Kind == domain.StockReserve {
		return &domain.InsufficientStockError{SKU: op.SKU, Requested: op.Quantity, Available: available}
	}
	return &domain.InvariantViolationError{
		SKU:    op.SKU,
		Op:     string(op.Kind),
		Detail: fmt.Sprintf("%s of %d exceeds reserved quantity", op.Kind, op.Quantity),
	}
}

func (m *MySQLAdapter) HasOpenOrdersForSKU(ctx context.Context, sku string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM line_items li
			JOIN service_orders o ON o.id = li.order_id
			WHERE li.sku = ? AND o.deleted_at IS NULL AND o.status NOT IN (?, ?)
		)`, sku, domain.StatusCompleted, domain.StatusCancelled).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query open orders for sku: %w", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item *domain.InventoryItem) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory_items
			(sku, name, description, kind, cost_price, sale_price,
			 current_quantity, reserved_quantity, min_quantity, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.SKU, item.Name, item.Description, item.Kind, item.CostPrice,
		item.SalePrice, item.CurrentQuantity, item.ReservedQuantity,
		item.MinQuantity, item.Version, item.CreatedAt, item.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return domain.ErrSKUExists
	}
	if err != nil {
		return fmt.Errorf("insert inventory item: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	item, err := scanItem(m.db.QueryRowContext(ctx, `
		SELECT sku, name, description, kind, cost_price, sale_price,
		       current_quantity, reserved_quantity, min_quantity, version, created_at, updated_at
		FROM inventory_items WHERE sku = ? AND deleted_at IS NULL`, sku))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSKUNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory item: %w", err)
	}
	return item, nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT sku, name, description, kind, cost_price, sale_price,
		       current_quantity, reserved_quantity, min_quantity, version, created_at, updated_at
		FROM inventory_items WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query inventory items: %w", err)
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(&item.SKU, &item.Name, &item.Description, &item.Kind,
		&item.CostPrice, &item.SalePrice, &item.CurrentQuantity,
		&item.ReservedQuantity, &item.MinQuantity, &item.Version,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (m *MySQLAdapter) UpdateItem(ctx context.Context, item *domain.InventoryItem) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = ?, description = ?, cost_price = ?, sale_price = ?,
		    min_quantity = ?, updated_at = NOW()
		WHERE sku = ? AND deleted_at IS NULL`,
		item.Name, item.Description, item.CostPrice, item.SalePrice,
		item.MinQuantity, item.SKU,
	)
	if err != nil {
		return fmt.Errorf("update inventory item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrSKUNotFound
	}
	return nil
}

func (m *MySQLAdapter) SoftDeleteItem(ctx context.Context, sku string) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory_items SET deleted_at = NOW(), updated_at = NOW()
		WHERE sku = ? AND deleted_at IS NULL`, sku)
	if err != nil {
		return fmt.Errorf("soft delete inventory item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrSKUNotFound
	}
	return nil
}

func (m *MySQLAdapter) Reserve(ctx context.Context, sku string, qty int) error {
	return applyStockOpSQL(ctx, m.db, domain.StockOp{Kind: domain.StockReserve, SKU: sku, Quantity: qty})
}

func (m *MySQLAdapter) Release(ctx context.Context, sku string, qty int) error {
	return applyStockOpSQL(ctx, m.db, domain.StockOp{Kind: domain.StockRelease, SKU: sku, Quantity: qty})
}

func (m *MySQLAdapter) Commit(ctx context.Context, sku string, qty int) error {
	return applyStockOpSQL(ctx, m.db, domain.StockOp{Kind: domain.StockCommit, SKU: sku, Quantity: qty})
}

func (m *MySQLAdapter) AdjustStock(ctx context.Context, sku string, delta int) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET current_quantity = current_quantity + ?, version = version + 1, updated_at = NOW()
		WHERE sku = ? AND kind = 'part' AND deleted_at IS NULL
		  AND current_quantity + ? >= reserved_quantity AND current_quantity + ? >= 0`,
		delta, sku, delta, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	var kind domain.ItemKind
	err = m.db.QueryRowContext(ctx,
		`SELECT kind FROM inventory_items WHERE sku = ? AND deleted_at IS NULL`,
		sku).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSKUNotFound
	}
	if err != nil {
		return fmt.Errorf("query inventory item: %w", err)
	}
	if kind == domain.KindService {
		return &domain.InvariantViolationError{SKU: sku, Op: "adjust", Detail: "service items carry no stock"}
	}
	return &domain.InvariantViolationError{SKU: sku, Op: "adjust", Detail: "adjustment below reserved quantity"}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
