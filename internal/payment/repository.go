package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/grocerflow/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const paymentColumns = `id, order_id, user_id, amount, phone_number, method, status, checkout_request_id, created_at, updated_at`

func scanPayment(row *sql.Row) (domain.Payment, error) {
	var p domain.Payment
	var checkout sql.NullString
	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.PhoneNumber, &p.Method, &p.Status, &checkout, &p.CreatedAt, &p.UpdatedAt)
	p.CheckoutRequestID = checkout.String
	return p, err
}

// Upsert records a pending payment. An order has at most one payment row, so
// initiating again replaces the previous attempt.
func (r *Repository) Upsert(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx, `
		INSERT INTO payments (order_id, user_id, amount, phone_number, method, status, checkout_request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			phone_number = EXCLUDED.phone_number,
			method = EXCLUDED.method,
			status = EXCLUDED.status,
			checkout_request_id = EXCLUDED.checkout_request_id,
			updated_at = NOW()
		RETURNING `+paymentColumns,
		p.OrderID, p.UserID, p.Amount, p.PhoneNumber, p.Method, p.Status, p.CheckoutRequestID))
}

func (r *Repository) FindByCheckoutID(ctx context.Context, checkoutID string) (domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE checkout_request_id = $1
	`, checkoutID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, domain.NotFound(fmt.Sprintf("Payment for checkout %s not found", checkoutID))
	}
	return p, err
}

func (r *Repository) UpdateStatus(ctx context.Context, id int64, status domain.PaymentStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}
