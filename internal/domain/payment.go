package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Payment struct {
	ID                int64           `json:"id"`
	OrderID           int64           `json:"order_id"`
	UserID            int64           `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	PhoneNumber       string          `json:"phone_number"`
	Method            PaymentMethod   `json:"method"`
	Status            PaymentStatus   `json:"status"`
	CheckoutRequestID string          `json:"checkout_request_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
