package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/fees"
	"github.com/joao-fontenele/grocerflow/internal/inventory"
	"github.com/joao-fontenele/grocerflow/internal/telemetry"
)

type FeeEstimator interface {
	EstimateFee(ctx context.Context, origin, destination string) fees.Estimate
}

// EventPublisher is satisfied by *messaging.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Service is the order lifecycle orchestrator. Every mutation runs inside a
// single Store.Atomic call and every status change goes through
// domain.Order.Transition.
type Service struct {
	store   Store
	fees    FeeEstimator
	events  EventPublisher
	metrics *telemetry.OrderMetrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *telemetry.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the orchestrator. events may be nil when no broker is
// configured.
func NewService(store Store, estimator FeeEstimator, events EventPublisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		fees:   estimator,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	CustomerID        int64
	Items             []domain.StockItem
	PaymentMethod     domain.PaymentMethod
	PaymentStatus     domain.PaymentStatus
	DeliverySchedule  domain.Date
	TaxAmount         decimal.Decimal
	TotalAmount       *decimal.Decimal
	StoreID           *int64
	DeliveryAddressID *int64
}

func (in *CreateInput) normalize() error {
	if len(in.Items) == 0 {
		return domain.BadRequest("items must not be empty")
	}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return domain.BadRequest(fmt.Sprintf("Invalid quantity %d for product ID %d", it.Quantity, it.ProductID), it.ProductID)
		}
	}
	in.Items = inventory.MergeItems(in.Items)

	if in.PaymentMethod == "" {
		in.PaymentMethod = domain.PaymentMethodCash
	}
	if !in.PaymentMethod.Valid() {
		return domain.BadRequest(fmt.Sprintf("invalid payment method %q", in.PaymentMethod))
	}
	if in.PaymentStatus == "" {
		in.PaymentStatus = domain.PaymentStatusPending
	}
	if !in.PaymentStatus.Valid() {
		return domain.BadRequest(fmt.Sprintf("invalid payment status %q", in.PaymentStatus))
	}
	if in.DeliverySchedule.IsZero() {
		return domain.BadRequest("delivery_schedule_at is required")
	}
	if in.TaxAmount.IsNegative() {
		return domain.BadRequest("tax_amount must not be negative")
	}
	return nil
}

// CreateOrder validates the customer and the products, then persists the
// order. A paid order takes its stock in the same transaction.
func (s *Service) CreateOrder(ctx context.Context, in CreateInput) (*domain.Order, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	quote, err := s.quote(ctx, in.StoreID, in.DeliveryAddressID)
	if err != nil {
		return nil, err
	}

	var (
		order  *domain.Order
		change domain.StatusChange
	)
	err = s.store.Atomic(ctx, func(tx Tx) error {
		customer, err := tx.FindUser(ctx, in.CustomerID)
		if err != nil {
			if domain.IsKind(err, domain.KindNotFound) {
				return domain.NotFound("invalid customer", in.CustomerID)
			}
			return err
		}
		if customer.Role != domain.RoleCustomer {
			return domain.NotFound("invalid customer", in.CustomerID)
		}

		ids := make([]int64, len(in.Items))
		for i, it := range in.Items {
			ids[i] = it.ProductID
		}
		products, err := tx.ValidateAvailability(ctx, ids)
		if err != nil {
			return err
		}

		if in.StoreID != nil {
			if _, err := tx.FindStore(ctx, *in.StoreID); err != nil {
				return err
			}
		}
		if in.DeliveryAddressID != nil {
			if _, err := tx.FindLocation(ctx, *in.DeliveryAddressID); err != nil {
				return err
			}
		}

		now := s.now()
		order = &domain.Order{
			CustomerID:         customer.ID,
			CustomerEmail:      customer.Email,
			StoreID:            in.StoreID,
			DeliveryAddressID:  in.DeliveryAddressID,
			Items:              snapshotItems(in.Items, products),
			TaxAmount:          in.TaxAmount.Round(2),
			PaymentMethod:      in.PaymentMethod,
			PaymentStatus:      in.PaymentStatus,
			DeliveryScheduleAt: in.DeliverySchedule,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		order.TotalAmount = domain.ComputeTotal(order.Items)
		if in.TotalAmount != nil && !in.TotalAmount.Equal(order.TotalAmount) {
			return domain.BadRequest(fmt.Sprintf("total_amount %s does not match computed total %s", in.TotalAmount, order.TotalAmount))
		}

		if fee, ok, err := s.feeFor(ctx, tx, order, quote); err != nil {
			return err
		} else if ok {
			order.DeliveryFee = &fee
		}

		initial := domain.OrderStatusPending
		if order.PaymentStatus == domain.PaymentStatusSuccess {
			if err := tx.DecrementStock(ctx, order.StockItems()); err != nil {
				return err
			}
			order.StockCommitted = true
			initial = domain.OrderStatusAccepted
		}
		if change, _, err = order.Transition(initial, domain.ReasonCreated, now); err != nil {
			return err
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		change.OrderID = order.ID
		return tx.InsertStatusChange(ctx, change)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OrderCreated(ctx, order.Status)
	s.logger.Info("order created", "order_id", order.ID, "order_code", order.Code, "status", order.Status)
	s.publish(ctx, order, []domain.StatusChange{change})
	return order, nil
}

func snapshotItems(items []domain.StockItem, products []domain.Product) []domain.OrderItem {
	byID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	out := make([]domain.OrderItem, len(items))
	for i, it := range items {
		p := byID[it.ProductID]
		out[i] = domain.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
		}
	}
	return out
}

func (s *Service) GetOrder(ctx context.Context, p domain.Principal, id int64) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Role == domain.RoleCustomer && order.CustomerID != p.ID {
		return nil, domain.NotFound(fmt.Sprintf("Order %d not found", id), id)
	}
	return order, nil
}

// ListOrders narrows a customer's listing to their own orders.
func (s *Service) ListOrders(ctx context.Context, p domain.Principal, filter Filter) ([]domain.Order, error) {
	if p.Role == domain.RoleCustomer {
		id := p.ID
		filter.CustomerID = &id
	}
	return s.store.ListOrders(ctx, filter)
}

// feeQuote is a delivery fee computed before the write transaction for a
// given store and address pair.
type feeQuote struct {
	storeID   int64
	addressID int64
	fee       decimal.Decimal
}

// quote estimates the fee outside any transaction so the geocoding round
// trips never hold row locks. It returns nil when the pair is incomplete.
func (s *Service) quote(ctx context.Context, storeID, addressID *int64) (*feeQuote, error) {
	if storeID == nil || addressID == nil || s.fees == nil {
		return nil, nil
	}

	var origin, destination string
	err := s.store.Atomic(ctx, func(tx Tx) error {
		store, err := tx.FindStore(ctx, *storeID)
		if err != nil {
			return err
		}
		loc, err := tx.FindLocation(ctx, *addressID)
		if err != nil {
			return err
		}
		origin, destination = store.Location, loc.FullAddress()
		return nil
	})
	if err != nil {
		return nil, err
	}

	est := s.fees.EstimateFee(ctx, origin, destination)
	return &feeQuote{storeID: *storeID, addressID: *addressID, fee: est.Fee}, nil
}

// feeFor returns the fee for the order's current store and address. A quote
// for the same pair is reused. ok is false when either side is unknown.
func (s *Service) feeFor(ctx context.Context, tx Tx, o *domain.Order, q *feeQuote) (fee decimal.Decimal, ok bool, err error) {
	if o.StoreID == nil || o.DeliveryAddressID == nil || s.fees == nil {
		return decimal.Zero, false, nil
	}
	if q != nil && q.storeID == *o.StoreID && q.addressID == *o.DeliveryAddressID {
		return q.fee, true, nil
	}

	store, err := tx.FindStore(ctx, *o.StoreID)
	if err != nil {
		return decimal.Zero, false, err
	}
	loc, err := tx.FindLocation(ctx, *o.DeliveryAddressID)
	if err != nil {
		return decimal.Zero, false, err
	}
	return s.fees.EstimateFee(ctx, store.Location, loc.FullAddress()).Fee, true, nil
}
