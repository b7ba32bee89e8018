package domain

import "time"

// OrderEvent is published on every committed status change.
type OrderEvent struct {
	EventID       string           `json:"event_id"`
	OrderID       int64            `json:"order_id"`
	OrderCode     string           `json:"order_code"`
	CustomerID    int64            `json:"customer_id"`
	CustomerEmail string           `json:"customer_email"`
	From          OrderStatus      `json:"from,omitempty"`
	To            OrderStatus      `json:"to"`
	Reason        TransitionReason `json:"reason"`
	AmountDue     string           `json:"amount_due"`
	Timestamp     time.Time        `json:"timestamp"`
}
