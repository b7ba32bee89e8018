package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/grocerflow/internal/domain"
)

// mutation collects what a transaction changed so events can be published
// once it has committed.
type mutation struct {
	order   *domain.Order
	changes []domain.StatusChange
}

func (m *mutation) transition(ctx context.Context, tx Tx, target domain.OrderStatus, reason domain.TransitionReason, at time.Time) error {
	change, moved, err := m.order.Transition(target, reason, at)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	if err := tx.InsertStatusChange(ctx, change); err != nil {
		return fmt.Errorf("record status change: %w", err)
	}
	m.changes = append(m.changes, change)
	return nil
}

// mutate locks the order, applies fn and saves the result.
func (s *Service) mutate(ctx context.Context, orderID int64, fn func(tx Tx, m *mutation) error) (*mutation, error) {
	m := &mutation{}
	err := s.store.Atomic(ctx, func(tx Tx) error {
		m.changes = nil
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		m.order = order

		if err := fn(tx, m); err != nil {
			return err
		}
		return tx.SaveOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, m.order, m.changes)
	return m, nil
}

// authorize checks that p may act on o. Customers own their orders, drivers
// their assignments and store owners the orders of their stores.
func authorize(ctx context.Context, tx Tx, p domain.Principal, o *domain.Order) error {
	switch p.Role {
	case domain.RoleAdmin:
		return nil

	case domain.RoleCustomer:
		if o.CustomerID != p.ID {
			return domain.Forbidden("You can only manage your own orders")
		}
		return nil

	case domain.RoleDriver:
		if o.DriverID == nil {
			return domain.Forbidden("You are not assigned to this order")
		}
		driver, err := tx.FindDriver(ctx, *o.DriverID)
		if err != nil {
			return err
		}
		if driver.UserID != p.ID {
			return domain.Forbidden("You are not assigned to this order")
		}
		return nil

	case domain.RoleStoreOwner:
		if o.StoreID == nil {
			return domain.Forbidden("Order is not assigned to your store")
		}
		return ownsStore(ctx, tx, p, *o.StoreID)
	}
	return domain.Forbidden(fmt.Sprintf("role %s cannot manage orders", p.Role))
}

func ownsStore(ctx context.Context, tx Tx, p domain.Principal, storeID int64) error {
	store, err := tx.FindStore(ctx, storeID)
	if err != nil {
		return err
	}
	if store.OwnerID != p.ID {
		return domain.Forbidden("Order is not assigned to your store")
	}
	return nil
}

// AssignStore sets the order's store and moves it to preparing. A store
// owner can only assign one of their own stores.
func (s *Service) AssignStore(ctx context.Context, p domain.Principal, orderID, storeID int64) (*domain.Order, error) {
	current, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	quote, err := s.quote(ctx, &storeID, current.DeliveryAddressID)
	if err != nil {
		return nil, err
	}

	m, err := s.mutate(ctx, orderID, func(tx Tx, m *mutation) error {
		o := m.order
		store, err := tx.FindStore(ctx, storeID)
		if err != nil {
			return err
		}
		if p.Role == domain.RoleStoreOwner && store.OwnerID != p.ID {
			return domain.Forbidden("You can only assign your own stores")
		}
		if o.Status.Terminal() {
			return domain.BadRequest(fmt.Sprintf("Order is already %s", o.Status))
		}
		if o.DriverID != nil {
			return domain.BadRequest("Cannot change store after a driver has been assigned")
		}

		if err := m.transition(ctx, tx, domain.OrderStatusPreparing, domain.ReasonStoreAssigned, s.now()); err != nil {
			return err
		}
		o.StoreID = &store.ID
		return s.applyFee(ctx, tx, o, quote)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("store assigned", "order_id", orderID, "store_id", storeID, "status", m.order.Status)
	return m.order, nil
}

// AssignDriver requires a store to be assigned first. Drivers can only
// assign themselves.
func (s *Service) AssignDriver(ctx context.Context, p domain.Principal, orderID, driverID int64) (*domain.Order, error) {
	m, err := s.mutate(ctx, orderID, func(tx Tx, m *mutation) error {
		o := m.order
		driver, err := tx.FindDriver(ctx, driverID)
		if err != nil {
			return err
		}
		if driver.UserRole != domain.RoleDriver {
			return domain.BadRequest("Assigned user is not a driver", driverID)
		}
		if o.Status.Terminal() {
			return domain.BadRequest(fmt.Sprintf("Order is already %s", o.Status))
		}
		if o.StoreID == nil {
			return domain.BadRequest("Order has no store assigned")
		}

		switch p.Role {
		case domain.RoleDriver:
			if driver.UserID != p.ID {
				return domain.Forbidden("Drivers can only assign themselves")
			}
		case domain.RoleStoreOwner:
			if err := ownsStore(ctx, tx, p, *o.StoreID); err != nil {
				return err
			}
		}

		if err := m.transition(ctx, tx, domain.OrderStatusOutForDelivery, domain.ReasonDriverAssigned, s.now()); err != nil {
			return err
		}
		o.DriverID = &driver.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("driver assigned", "order_id", orderID, "driver_id", driverID, "status", m.order.Status)
	return m.order, nil
}

// UpdateStatus moves the order exactly one step forward, or to cancelled or
// failed.
func (s *Service) UpdateStatus(ctx context.Context, p domain.Principal, orderID int64, status string) (*domain.Order, error) {
	target, err := domain.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}
	if p.Role == domain.RoleCustomer {
		return nil, domain.Forbidden("Customers cannot update order status")
	}

	m, err := s.mutate(ctx, orderID, func(tx Tx, m *mutation) error {
		if err := authorize(ctx, tx, p, m.order); err != nil {
			return err
		}
		return m.transition(ctx, tx, target, domain.ReasonStatusUpdate, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status updated", "order_id", orderID, "status", m.order.Status)
	return m.order, nil
}

type Patch struct {
	DeliveryAddressID *int64
	StoreID           *int64
	TaxAmount         *decimal.Decimal
	PaymentMethod     *domain.PaymentMethod
	PaymentStatus     *domain.PaymentStatus
	DeliverySchedule  *domain.Date
}

func (p Patch) onlyPaymentStatus() bool {
	return p.DeliveryAddressID == nil && p.StoreID == nil && p.TaxAmount == nil &&
		p.PaymentMethod == nil && p.DeliverySchedule == nil
}

func (p Patch) validate() error {
	if p.TaxAmount != nil && p.TaxAmount.IsNegative() {
		return domain.BadRequest("tax_amount must not be negative")
	}
	if p.PaymentMethod != nil && !p.PaymentMethod.Valid() {
		return domain.BadRequest(fmt.Sprintf("invalid payment method %q", *p.PaymentMethod))
	}
	if p.PaymentStatus != nil && !p.PaymentStatus.Valid() {
		return domain.BadRequest(fmt.Sprintf("invalid payment status %q", *p.PaymentStatus))
	}
	return nil
}

// UpdateOrder applies a partial update. The delivery fee is recomputed when
// the store or address changes and both are known. Only admins may set
// payment_status; moving it to success takes the order's stock, and if that
// fails nothing is applied. Customers cannot reschedule once the cancellation
// window has closed.
func (s *Service) UpdateOrder(ctx context.Context, p domain.Principal, orderID int64, patch Patch) (*domain.Order, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}

	var quote *feeQuote
	if patch.StoreID != nil || patch.DeliveryAddressID != nil {
		current, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		storeID, addressID := current.StoreID, current.DeliveryAddressID
		if patch.StoreID != nil {
			storeID = patch.StoreID
		}
		if patch.DeliveryAddressID != nil {
			addressID = patch.DeliveryAddressID
		}
		if quote, err = s.quote(ctx, storeID, addressID); err != nil {
			return nil, err
		}
	}

	m, err := s.mutate(ctx, orderID, func(tx Tx, m *mutation) error {
		o := m.order
		if err := authorize(ctx, tx, p, o); err != nil {
			return err
		}
		if patch.PaymentStatus != nil && p.Role != domain.RoleAdmin {
			return domain.Forbidden("Only admins can change payment status")
		}
		if patch.DeliverySchedule != nil && p.Role == domain.RoleCustomer && !s.now().Before(o.CancelDeadline()) {
			return domain.BadRequest("Cannot reschedule within 24 hours of the scheduled time")
		}
		if o.Status.Terminal() && !patch.onlyPaymentStatus() {
			return domain.BadRequest(fmt.Sprintf("Order is %s; only payment_status can be updated", o.Status))
		}

		recompute := false
		if patch.DeliveryAddressID != nil {
			if _, err := tx.FindLocation(ctx, *patch.DeliveryAddressID); err != nil {
				return err
			}
			recompute = recompute || o.DeliveryAddressID == nil || *o.DeliveryAddressID != *patch.DeliveryAddressID
			o.DeliveryAddressID = patch.DeliveryAddressID
		}
		if patch.StoreID != nil {
			if _, err := tx.FindStore(ctx, *patch.StoreID); err != nil {
				return err
			}
			changed := o.StoreID == nil || *o.StoreID != *patch.StoreID
			if changed && o.DriverID != nil {
				return domain.BadRequest("Cannot change store after a driver has been assigned")
			}
			recompute = recompute || changed
			o.StoreID = patch.StoreID
		}
		if patch.TaxAmount != nil {
			o.TaxAmount = patch.TaxAmount.Round(2)
		}
		if patch.PaymentMethod != nil {
			o.PaymentMethod = *patch.PaymentMethod
		}
		if patch.DeliverySchedule != nil {
			o.DeliveryScheduleAt = *patch.DeliverySchedule
		}
		if recompute {
			if err := s.applyFee(ctx, tx, o, quote); err != nil {
				return err
			}
		}

		o.UpdatedAt = s.now()
		if patch.PaymentStatus != nil {
			return s.setPaymentStatus(ctx, tx, m, *patch.PaymentStatus)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order updated", "order_id", orderID, "status", m.order.Status)
	return m.order, nil
}

// CancelOrder never deletes the order. Cancelling twice succeeds.
func (s *Service) CancelOrder(ctx context.Context, p domain.Principal, orderID int64) (*domain.Order, error) {
	m, err := s.mutate(ctx, orderID, func(tx Tx, m *mutation) error {
		o := m.order
		if err := authorize(ctx, tx, p, o); err != nil {
			return err
		}
		if o.Status == domain.OrderStatusCancelled {
			return nil
		}

		now := s.now()
		if p.Role == domain.RoleCustomer && !now.Before(o.CancelDeadline()) {
			return domain.BadRequest("Cannot cancel within 24 hours of the scheduled time")
		}
		return m.transition(ctx, tx, domain.OrderStatusCancelled, domain.ReasonCancelled, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled", "order_id", orderID, "by_role", p.Role, "by_user", p.ID)
	return m.order, nil
}

// ConfirmPayment reacts to a payment gateway outcome. A successful payment
// takes stock once; when stock has run out the order is failed and that
// state is committed before the error is returned. A failure never
// overrides an earlier success.
func (s *Service) ConfirmPayment(ctx context.Context, orderID int64, status domain.PaymentStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, domain.BadRequest(fmt.Sprintf("invalid payment status %q", status))
	}

	var stockErr error
	m, err := s.mutate(ctx, orderID, func(tx Tx, m *mutation) error {
		stockErr = nil
		if m.order.PaymentStatus == domain.PaymentStatusSuccess && status == domain.PaymentStatusFailed {
			s.logger.Warn("ignoring failed payment on a paid order", "order_id", orderID)
			return nil
		}
		err := s.setPaymentStatus(ctx, tx, m, status)
		if err == nil || !domain.IsKind(err, domain.KindBadRequest) || status != domain.PaymentStatusSuccess {
			return err
		}

		stockErr = err
		m.order.PaymentStatus = status
		return m.transition(ctx, tx, domain.OrderStatusFailed, domain.ReasonStockUnavailable, s.now())
	})
	if err != nil {
		return nil, err
	}

	if stockErr != nil {
		s.logger.Warn("paid order failed for lack of stock", "order_id", orderID, "error", stockErr)
		return m.order, stockErr
	}
	s.logger.Info("payment applied", "order_id", orderID, "payment_status", status, "status", m.order.Status)
	return m.order, nil
}

// setPaymentStatus records a payment outcome. The first success on a live
// order takes its stock and accepts it; replays change nothing.
func (s *Service) setPaymentStatus(ctx context.Context, tx Tx, m *mutation, status domain.PaymentStatus) error {
	o := m.order
	previous := o.PaymentStatus
	o.PaymentStatus = status
	o.UpdatedAt = s.now()

	if status != domain.PaymentStatusSuccess || previous == domain.PaymentStatusSuccess {
		return nil
	}
	if o.Status.Terminal() {
		s.logger.Warn("payment succeeded on a closed order", "order_id", o.ID, "status", o.Status)
		return nil
	}

	if !o.StockCommitted {
		if err := tx.DecrementStock(ctx, o.StockItems()); err != nil {
			var de *domain.Error
			if errors.As(err, &de) {
				return err
			}
			return fmt.Errorf("decrement stock: %w", err)
		}
		o.StockCommitted = true
	}
	return m.transition(ctx, tx, domain.OrderStatusAccepted, domain.ReasonPaymentConfirmed, s.now())
}

func (s *Service) applyFee(ctx context.Context, tx Tx, o *domain.Order, q *feeQuote) error {
	fee, ok, err := s.feeFor(ctx, tx, o, q)
	if err != nil {
		return err
	}
	if ok {
		o.DeliveryFee = &fee
	}
	return nil
}
