// Package payment initiates phone push payments and feeds gateway outcomes
// back into the order lifecycle.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joao-fontenele/grocerflow/internal/domain"
)

const DefaultTimeout = 15 * time.Second

// ErrGatewayUnavailable hides upstream failures from the caller.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type Gateway interface {
	STKPush(ctx context.Context, phone string, amount int64) (STKPushResult, error)
}

type Store interface {
	Upsert(ctx context.Context, p domain.Payment) (domain.Payment, error)
	FindByCheckoutID(ctx context.Context, checkoutID string) (domain.Payment, error)
	UpdateStatus(ctx context.Context, id int64, status domain.PaymentStatus) error
}

// Orders is the slice of the order orchestrator payments need.
type Orders interface {
	GetOrder(ctx context.Context, p domain.Principal, id int64) (*domain.Order, error)
	ConfirmPayment(ctx context.Context, orderID int64, status domain.PaymentStatus) (*domain.Order, error)
}

type Service struct {
	orders  Orders
	gateway Gateway
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

func NewService(orders Orders, gateway Gateway, store Store, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		orders:  orders,
		gateway: gateway,
		store:   store,
		timeout: timeout,
		logger:  logger,
	}
}

// Initiate pushes a payment request to the customer's phone. No database
// transaction is open while the gateway is called.
func (s *Service) Initiate(ctx context.Context, p domain.Principal, orderID int64, phone string) (domain.Payment, error) {
	order, err := s.orders.GetOrder(ctx, p, orderID)
	if err != nil {
		return domain.Payment{}, err
	}
	if p.Role != domain.RoleCustomer || order.CustomerID != p.ID {
		return domain.Payment{}, domain.Forbidden("Only the ordering customer can pay for an order")
	}
	if order.PaymentStatus == domain.PaymentStatusSuccess {
		return domain.Payment{}, domain.BadRequest("Order is already paid")
	}
	if order.Status.Terminal() {
		return domain.Payment{}, domain.BadRequest(fmt.Sprintf("Order is %s", order.Status))
	}

	amount := order.AmountDue()
	pushCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.gateway.STKPush(pushCtx, phone, amount.Ceil().IntPart())
	if err != nil {
		s.logger.Error("stk push failed", "error", err, "order_id", orderID)
		return domain.Payment{}, ErrGatewayUnavailable
	}

	payment, err := s.store.Upsert(ctx, domain.Payment{
		OrderID:           order.ID,
		UserID:            p.ID,
		Amount:            amount,
		PhoneNumber:       phone,
		Method:            domain.PaymentMethodMpesa,
		Status:            domain.PaymentStatusPending,
		CheckoutRequestID: result.CheckoutRequestID,
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("save payment: %w", err)
	}

	s.logger.Info("payment initiated", "order_id", orderID, "payment_id", payment.ID, "checkout_request_id", result.CheckoutRequestID)
	return payment, nil
}

// Outcome is a gateway's verdict on a checkout.
type Outcome struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
}

func (o Outcome) Status() domain.PaymentStatus {
	if o.ResultCode == 0 {
		return domain.PaymentStatusSuccess
	}
	return domain.PaymentStatusFailed
}

// HandleOutcome applies a gateway callback. The order is confirmed before the
// payment row is written, so a callback that fails midway can be retried.
// Replays are no-ops, and a failure reported after a success is ignored. A
// paid order that could not get its stock is failed by the orchestrator;
// that is logged and not reported back to the gateway.
func (s *Service) HandleOutcome(ctx context.Context, outcome Outcome) error {
	if outcome.CheckoutRequestID == "" {
		return domain.BadRequest("CheckoutRequestID is required")
	}

	payment, err := s.store.FindByCheckoutID(ctx, outcome.CheckoutRequestID)
	if err != nil {
		return err
	}

	status := outcome.Status()
	if payment.Status == status {
		s.logger.Info("duplicate payment callback", "payment_id", payment.ID, "status", status)
		return nil
	}
	if payment.Status == domain.PaymentStatusSuccess {
		s.logger.Warn("ignoring payment downgrade", "payment_id", payment.ID, "status", status, "result", outcome.ResultDesc)
		return nil
	}

	order, err := s.orders.ConfirmPayment(ctx, payment.OrderID, status)
	if err != nil {
		var de *domain.Error
		if !errors.As(err, &de) || order == nil {
			return err
		}
		s.logger.Warn("payment applied but order failed", "order_id", payment.OrderID, "status", order.Status, "error", err)
	}

	if err := s.store.UpdateStatus(ctx, payment.ID, status); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	s.logger.Info("payment callback applied", "payment_id", payment.ID, "order_id", payment.OrderID, "status", status, "result", outcome.ResultDesc)
	return nil
}
