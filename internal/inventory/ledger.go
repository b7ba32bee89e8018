package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/lib/pq"

	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/telemetry"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger owns every read and write of product stock. The methods taking a
// DBTX run inside the caller's transaction.
type Ledger struct {
	db      *sql.DB
	metrics *telemetry.OrderMetrics
}

func NewLedger(db *sql.DB, metrics *telemetry.OrderMetrics) *Ledger {
	return &Ledger{db: db, metrics: metrics}
}

const productColumns = `id, store_id, product_name, product_price, stock, is_available, deleted_at`

func scanProduct(s interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := s.Scan(&p.ID, &p.StoreID, &p.Name, &p.Price, &p.Stock, &p.IsAvailable, &p.DeletedAt)
	return p, err
}

func queryProducts(ctx context.Context, q DBTX, query string, ids []int64) ([]domain.Product, error) {
	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// ValidateAvailability returns the requested products in request order.
func (l *Ledger) ValidateAvailability(ctx context.Context, q DBTX, productIDs []int64) ([]domain.Product, error) {
	ids := uniqueIDs(productIDs)
	found, err := queryProducts(ctx, q, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1) AND deleted_at IS NULL
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	return CheckAvailability(ids, found)
}

// Decrement removes stock for every item or for none of them. Rows are locked
// in id order so concurrent decrements cannot deadlock.
func (l *Ledger) Decrement(ctx context.Context, q DBTX, items []domain.StockItem) error {
	merged := MergeItems(items)
	ids := make([]int64, len(merged))
	for i, it := range merged {
		ids[i] = it.ProductID
	}

	locked, err := queryProducts(ctx, q, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1) AND deleted_at IS NULL
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return fmt.Errorf("lock products: %w", err)
	}

	if err := PlanDecrement(merged, locked); err != nil {
		return err
	}

	units := 0
	for _, it := range merged {
		if _, err := q.ExecContext(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = NOW()
			WHERE id = $1
		`, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("decrement product %d: %w", it.ProductID, err)
		}
		units += it.Quantity
	}

	l.metrics.StockDecremented(ctx, units)
	return nil
}

func (l *Ledger) getStock(ctx context.Context, q DBTX, productID int64) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := q.QueryRowContext(ctx, `
		SELECT id, stock, is_available
		FROM products
		WHERE id = $1 AND deleted_at IS NULL
	`, productID).Scan(&level.ProductID, &level.Stock, &level.IsAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockLevel{}, domain.NotFound(fmt.Sprintf("Product %d not found", productID), productID)
	}
	return level, err
}

func (l *Ledger) HasOrderLines(ctx context.Context, q DBTX, productID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM order_items WHERE product_id = $1)
	`, productID).Scan(&exists)
	return exists, err
}

func (l *Ledger) SoftDelete(ctx context.Context, q DBTX, productID int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE products SET is_available = FALSE, deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, productID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.NotFound(fmt.Sprintf("Product %d not found", productID), productID)
	}
	return nil
}

func (l *Ledger) GetStock(ctx context.Context, productID int64) (domain.StockLevel, error) {
	return l.getStock(ctx, l.db, productID)
}

// DecrementStock runs Decrement in its own transaction.
func (l *Ledger) DecrementStock(ctx context.Context, items []domain.StockItem) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		return l.Decrement(ctx, tx, items)
	})
}

// RemoveProduct soft-deletes a product nobody has ordered yet.
func (l *Ledger) RemoveProduct(ctx context.Context, productID int64) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		used, err := l.HasOrderLines(ctx, tx, productID)
		if err != nil {
			return err
		}
		if used {
			return domain.BadRequest("Product cannot be removed because it has orders", productID)
		}
		return l.SoftDelete(ctx, tx, productID)
	})
}

func (l *Ledger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CheckAvailability compares the requested ids with the rows found. Missing
// ids are reported before unavailable products.
func CheckAvailability(ids []int64, found []domain.Product) ([]domain.Product, error) {
	byID := make(map[int64]domain.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	var missing []int64
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, domain.MissingProducts(missing)
	}

	products := make([]domain.Product, 0, len(ids))
	var unavailable []domain.Product
	for _, id := range ids {
		p := byID[id]
		if !p.Orderable() {
			unavailable = append(unavailable, p)
		}
		products = append(products, p)
	}
	if len(unavailable) > 0 {
		return nil, domain.UnavailableProducts(unavailable)
	}
	return products, nil
}

// PlanDecrement verifies that every merged item can be served by the locked
// rows.
func PlanDecrement(items []domain.StockItem, locked []domain.Product) error {
	byID := make(map[int64]domain.Product, len(locked))
	for _, p := range locked {
		byID[p.ID] = p
	}

	var missing []int64
	for _, it := range items {
		if _, ok := byID[it.ProductID]; !ok {
			missing = append(missing, it.ProductID)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return domain.MissingProducts(missing)
	}

	for _, it := range items {
		if it.Quantity <= 0 {
			return domain.BadRequest(fmt.Sprintf("Invalid quantity %d for product ID %d", it.Quantity, it.ProductID), it.ProductID)
		}
		if p := byID[it.ProductID]; p.Stock < it.Quantity {
			return domain.InsufficientStock(it.ProductID, it.Quantity, p.Stock)
		}
	}
	return nil
}

// MergeItems sums quantities of repeated products and sorts by product id.
func MergeItems(items []domain.StockItem) []domain.StockItem {
	totals := make(map[int64]int, len(items))
	for _, it := range items {
		totals[it.ProductID] += it.Quantity
	}

	merged := make([]domain.StockItem, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, domain.StockItem{ProductID: id, Quantity: qty})
	}
	slices.SortFunc(merged, func(a, b domain.StockItem) int {
		switch {
		case a.ProductID < b.ProductID:
			return -1
		case a.ProductID > b.ProductID:
			return 1
		}
		return 0
	})
	return merged
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
