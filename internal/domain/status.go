package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusAccepted       OrderStatus = "accepted"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusFailed         OrderStatus = "failed"
)

// forward holds the rank of every state on the happy path.
var forward = map[OrderStatus]int{
	OrderStatusPending:        0,
	OrderStatusAccepted:       1,
	OrderStatusPreparing:      2,
	OrderStatusReadyForPickup: 3,
	OrderStatusOutForDelivery: 4,
	OrderStatusDelivered:      5,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !st.Valid() {
		return "", BadRequest(fmt.Sprintf("invalid order status %q", s))
	}
	return st, nil
}

func (s OrderStatus) Valid() bool {
	if _, ok := forward[s]; ok {
		return true
	}
	return s == OrderStatusCancelled || s == OrderStatusFailed
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusFailed
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusSuccess  PaymentStatus = "success"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodDebitCard  PaymentMethod = "debit_card"
	PaymentMethodPaypal     PaymentMethod = "paypal"
	PaymentMethodCash       PaymentMethod = "cash"
	PaymentMethodWallet     PaymentMethod = "wallet"
	PaymentMethodMpesa      PaymentMethod = "mpesa"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodPaypal,
		PaymentMethodCash, PaymentMethodWallet, PaymentMethodMpesa:
		return true
	}
	return false
}

// TransitionReason names the trigger behind a status change. Each reason has
// its own set of legal source states.
type TransitionReason string

const (
	ReasonCreated          TransitionReason = "created"
	ReasonPaymentConfirmed TransitionReason = "payment_confirmed"
	ReasonStoreAssigned    TransitionReason = "store_assigned"
	ReasonDriverAssigned   TransitionReason = "driver_assigned"
	ReasonStatusUpdate     TransitionReason = "status_update"
	ReasonCancelled        TransitionReason = "cancelled"
	ReasonStockUnavailable TransitionReason = "stock_unavailable"
)

type StatusChange struct {
	OrderID int64            `json:"order_id"`
	From    OrderStatus      `json:"from"`
	To      OrderStatus      `json:"to"`
	Reason  TransitionReason `json:"reason"`
	At      time.Time        `json:"at"`
}

// Transition is the only place an order's status is changed. It returns the
// change and true when the status moved, or false when the request was legal
// but left the status where it was (for example a payment confirmation on an
// order that is already being prepared). UpdatedAt is bumped in both cases.
func (o *Order) Transition(target OrderStatus, reason TransitionReason, at time.Time) (StatusChange, bool, error) {
	if !target.Valid() {
		return StatusChange{}, false, BadRequest(fmt.Sprintf("invalid order status %q", target))
	}

	from := o.Status
	next, err := nextStatus(o, target, reason)
	if err != nil {
		return StatusChange{}, false, err
	}

	o.UpdatedAt = at
	if next == from {
		return StatusChange{}, false, nil
	}

	o.Status = next
	return StatusChange{OrderID: o.ID, From: from, To: next, Reason: reason, At: at}, true, nil
}

func nextStatus(o *Order, target OrderStatus, reason TransitionReason) (OrderStatus, error) {
	from := o.Status

	// A new order has no status yet; creation is the only way out of that.
	if reason == ReasonCreated {
		if from != "" || (target != OrderStatusPending && target != OrderStatusAccepted) {
			return "", illegal(from, target, reason)
		}
		return target, nil
	}
	if !from.Valid() {
		return "", illegal(from, target, reason)
	}

	if from.Terminal() {
		if reason == ReasonCancelled && from == OrderStatusCancelled {
			return from, nil
		}
		return "", illegal(from, target, reason)
	}

	switch reason {
	case ReasonCancelled:
		if target != OrderStatusCancelled {
			return "", illegal(from, target, reason)
		}
		return target, nil

	case ReasonStockUnavailable:
		if target != OrderStatusFailed {
			return "", illegal(from, target, reason)
		}
		return target, nil

	case ReasonPaymentConfirmed:
		if target != OrderStatusAccepted {
			return "", illegal(from, target, reason)
		}
		return advanceTo(from, target), nil

	case ReasonStoreAssigned:
		if target != OrderStatusPreparing || o.DriverID != nil || forward[from] > forward[OrderStatusReadyForPickup] {
			return "", illegal(from, target, reason)
		}
		return advanceTo(from, target), nil

	case ReasonDriverAssigned:
		if target != OrderStatusOutForDelivery || o.StoreID == nil {
			return "", illegal(from, target, reason)
		}
		return advanceTo(from, target), nil

	case ReasonStatusUpdate:
		if target == OrderStatusCancelled || target == OrderStatusFailed {
			return target, nil
		}
		if forward[target] != forward[from]+1 {
			return "", illegal(from, target, reason)
		}
		return target, nil
	}

	return "", illegal(from, target, reason)
}

// advanceTo never moves a status backwards.
func advanceTo(from, target OrderStatus) OrderStatus {
	if forward[from] >= forward[target] {
		return from
	}
	return target
}

func illegal(from, to OrderStatus, reason TransitionReason) error {
	return BadRequest(fmt.Sprintf("illegal status transition from %s to %s (%s)", from, to, reason))
}
