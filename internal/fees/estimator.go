// Package fees prices deliveries by driving distance.
package fees

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/grocerflow/internal/telemetry"
)

// RatePerMeter is 10 per 100 meters.
var RatePerMeter = decimal.RequireFromString("0.10")

const DefaultTimeout = 3 * time.Second

type DistanceProvider interface {
	Distance(ctx context.Context, origin, destination string) (float64, error)
}

type Estimate struct {
	Meters   float64
	Fee      decimal.Decimal
	Fallback bool
}

type Estimator struct {
	distance DistanceProvider
	timeout  time.Duration
	metrics  *telemetry.OrderMetrics
	logger   *slog.Logger
}

func NewEstimator(distance DistanceProvider, timeout time.Duration, metrics *telemetry.OrderMetrics, logger *slog.Logger) *Estimator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Estimator{
		distance: distance,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger,
	}
}

// EstimateFee never fails. A provider error or timeout yields a zero fee
// with Fallback set.
func (e *Estimator) EstimateFee(ctx context.Context, origin, destination string) Estimate {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	meters, err := e.distance.Distance(ctx, origin, destination)
	if err != nil {
		e.logger.Warn("delivery fee estimation failed, using zero fee",
			"error", err, "origin", origin, "destination", destination)
		e.metrics.FeeFallback(ctx)
		return Estimate{Fee: decimal.Zero, Fallback: true}
	}

	return Estimate{Meters: meters, Fee: FeeFor(meters)}
}

func FeeFor(meters float64) decimal.Decimal {
	if meters <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(meters).Mul(RatePerMeter).Round(2)
}
