package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/grocerflow/internal/domain"
)

// OrderMetrics holds the domain instruments of the order lifecycle.
// A nil *OrderMetrics records nothing.
type OrderMetrics struct {
	created      metric.Int64Counter
	transitions  metric.Int64Counter
	feeFallbacks metric.Int64Counter
	decrements   metric.Int64Counter
}

// NewOrderMetrics registers the instruments on the global MeterProvider, so it
// must run after InitMeterProvider.
func NewOrderMetrics() (*OrderMetrics, error) {
	meter := otel.Meter("github.com/joao-fontenele/grocerflow/orders")

	created, err := meter.Int64Counter("orders_created_total",
		metric.WithDescription("Orders created, by initial status"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("order_transitions_total",
		metric.WithDescription("Committed order status changes"))
	if err != nil {
		return nil, err
	}
	feeFallbacks, err := meter.Int64Counter("delivery_fee_fallbacks_total",
		metric.WithDescription("Delivery fee estimates that fell back to zero"))
	if err != nil {
		return nil, err
	}
	decrements, err := meter.Int64Counter("stock_decrements_total",
		metric.WithDescription("Units removed from product stock"))
	if err != nil {
		return nil, err
	}

	return &OrderMetrics{
		created:      created,
		transitions:  transitions,
		feeFallbacks: feeFallbacks,
		decrements:   decrements,
	}, nil
}

func (m *OrderMetrics) OrderCreated(ctx context.Context, status domain.OrderStatus) {
	if m == nil {
		return
	}
	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *OrderMetrics) Transitioned(ctx context.Context, change domain.StatusChange) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(change.From)),
		attribute.String("to", string(change.To)),
		attribute.String("reason", string(change.Reason)),
	))
}

func (m *OrderMetrics) FeeFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.feeFallbacks.Add(ctx, 1)
}

func (m *OrderMetrics) StockDecremented(ctx context.Context, units int) {
	if m == nil {
		return
	}
	m.decrements.Add(ctx, int64(units))
}
