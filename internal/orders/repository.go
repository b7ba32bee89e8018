package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/inventory"
)

// maxCodeAttempts bounds order code regeneration on unique violations.
const maxCodeAttempts = 5

const uniqueViolation = "23505"

type Repository struct {
	db     *sql.DB
	ledger *inventory.Ledger
}

func NewRepository(db *sql.DB, ledger *inventory.Ledger) *Repository {
	return &Repository{db: db, ledger: ledger}
}

func (r *Repository) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txRepository{tx: tx, ledger: r.ledger}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return getOrder(ctx, r.db, id, false)
}

func (r *Repository) ListOrders(ctx context.Context, filter Filter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != nil {
		add("o.status = $%d", string(*filter.Status))
	}
	if filter.DeliveryDate != nil {
		add("o.delivery_schedule_at = $%d", *filter.DeliveryDate)
	}
	if filter.CustomerID != nil {
		add("o.customer_id = $%d", *filter.CustomerID)
	}
	if filter.DriverID != nil {
		add("o.driver_id = $%d", *filter.DriverID)
	}
	if filter.StoreID != nil {
		add("o.store_id = $%d", *filter.StoreID)
	}

	query := orderSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY o.created_at DESC, o.id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[int64]*domain.Order)
	var orderIDs []int64
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID int64
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}

const orderSelect = `
	SELECT o.id, o.code, o.customer_id, u.email, o.store_id, o.driver_id, o.delivery_address_id, p.id,
		o.total_amount, o.tax_amount, o.delivery_fee, o.status, o.payment_method, o.payment_status,
		o.delivery_schedule_at, o.stock_committed, o.created_at, o.updated_at
	FROM orders o
	JOIN users u ON u.id = o.customer_id
	LEFT JOIN payments p ON p.order_id = o.id`

func scanOrder(s interface{ Scan(...any) error }) (*domain.Order, error) {
	o := &domain.Order{}
	err := s.Scan(&o.ID, &o.Code, &o.CustomerID, &o.CustomerEmail, &o.StoreID, &o.DriverID, &o.DeliveryAddressID, &o.PaymentID,
		&o.TotalAmount, &o.TaxAmount, &o.DeliveryFee, &o.Status, &o.PaymentMethod, &o.PaymentStatus,
		&o.DeliveryScheduleAt, &o.StockCommitted, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func getOrder(ctx context.Context, q inventory.DBTX, id int64, lock bool) (*domain.Order, error) {
	query := orderSelect + " WHERE o.id = $1"
	if lock {
		query += " FOR UPDATE OF o"
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(fmt.Sprintf("Order %d not found", id), id)
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	order.Items = []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return order, nil
}

type txRepository struct {
	tx     *sql.Tx
	ledger *inventory.Ledger
}

func (t *txRepository) LockOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *txRepository) InsertOrder(ctx context.Context, o *domain.Order) error {
	for attempt := 1; ; attempt++ {
		code, err := domain.NewOrderCode()
		if err != nil {
			return fmt.Errorf("generate order code: %w", err)
		}

		err = t.insertOrderRow(ctx, o, code)
		if err == nil {
			o.Code = code
			break
		}
		if !isUniqueViolation(err, "orders_code_key") || attempt == maxCodeAttempts {
			return err
		}
	}

	for _, item := range o.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, o.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

// insertOrderRow runs under a savepoint so a code collision does not abort
// the surrounding transaction.
func (t *txRepository) insertOrderRow(ctx context.Context, o *domain.Order, code string) error {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT insert_order`); err != nil {
		return err
	}

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (code, customer_id, store_id, driver_id, delivery_address_id,
			total_amount, tax_amount, delivery_fee, status, payment_method, payment_status,
			delivery_schedule_at, stock_committed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING id
	`, code, o.CustomerID, o.StoreID, o.DriverID, o.DeliveryAddressID,
		o.TotalAmount, o.TaxAmount, o.DeliveryFee, o.Status, o.PaymentMethod, o.PaymentStatus,
		o.DeliveryScheduleAt, o.StockCommitted, o.CreatedAt).Scan(&o.ID)
	if err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT insert_order`); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}

	_, err = t.tx.ExecContext(ctx, `RELEASE SAVEPOINT insert_order`)
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
}

func (t *txRepository) SaveOrder(ctx context.Context, o *domain.Order) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET
			store_id = $2, driver_id = $3, delivery_address_id = $4,
			tax_amount = $5, delivery_fee = $6, status = $7,
			payment_method = $8, payment_status = $9, delivery_schedule_at = $10,
			stock_committed = $11, updated_at = $12
		WHERE id = $1
	`, o.ID, o.StoreID, o.DriverID, o.DeliveryAddressID,
		o.TaxAmount, o.DeliveryFee, o.Status,
		o.PaymentMethod, o.PaymentStatus, o.DeliveryScheduleAt,
		o.StockCommitted, o.UpdatedAt)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.NotFound(fmt.Sprintf("Order %d not found", o.ID), o.ID)
	}
	return nil
}

func (t *txRepository) InsertStatusChange(ctx context.Context, change domain.StatusChange) error {
	var from sql.NullString
	if change.From != "" {
		from = sql.NullString{String: string(change.From), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, change.OrderID, from, change.To, change.Reason, change.At)
	return err
}

func (t *txRepository) FindUser(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, email, name, role FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.NotFound(fmt.Sprintf("User %d not found", id), id)
	}
	return u, err
}

func (t *txRepository) FindStore(ctx context.Context, id int64) (domain.Store, error) {
	var s domain.Store
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, owner_id, store_name, location, is_verified, opening_time, closing_time, status
		FROM stores WHERE id = $1
	`, id).Scan(&s.ID, &s.OwnerID, &s.Name, &s.Location, &s.IsVerified, &s.OpeningTime, &s.ClosingTime, &s.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Store{}, domain.NotFound(fmt.Sprintf("Store %d not found", id), id)
	}
	return s, err
}

func (t *txRepository) FindDriver(ctx context.Context, id int64) (domain.Driver, error) {
	var d domain.Driver
	err := t.tx.QueryRowContext(ctx, `
		SELECT d.id, d.user_id, u.role, d.is_available, d.current_location, d.vehicle_info, d.total_earnings
		FROM drivers d
		JOIN users u ON u.id = d.user_id
		WHERE d.id = $1
	`, id).Scan(&d.ID, &d.UserID, &d.UserRole, &d.IsAvailable, &d.CurrentLocation, &d.VehicleInfo, &d.TotalEarnings)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Driver{}, domain.NotFound(fmt.Sprintf("Driver %d not found", id), id)
	}
	return d, err
}

func (t *txRepository) FindLocation(ctx context.Context, id int64) (domain.Location, error) {
	var l domain.Location
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, owner_id, owner_type, label, address_line1, city, state, postal_code, country, latitude, longitude
		FROM locations WHERE id = $1
	`, id).Scan(&l.ID, &l.OwnerID, &l.OwnerType, &l.Label, &l.AddressLine1, &l.City, &l.State, &l.PostalCode, &l.Country, &l.Latitude, &l.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Location{}, domain.NotFound(fmt.Sprintf("Location %d not found", id), id)
	}
	return l, err
}

func (t *txRepository) ValidateAvailability(ctx context.Context, productIDs []int64) ([]domain.Product, error) {
	return t.ledger.ValidateAvailability(ctx, t.tx, productIDs)
}

func (t *txRepository) DecrementStock(ctx context.Context, items []domain.StockItem) error {
	return t.ledger.Decrement(ctx, t.tx, items)
}
