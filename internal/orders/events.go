package orders

import (
	"context"

	"github.com/google/uuid"

	"github.com/joao-fontenele/grocerflow/internal/domain"
)

// publish runs after commit. A broker failure is logged and never fails the
// request that caused the change.
func (s *Service) publish(ctx context.Context, o *domain.Order, changes []domain.StatusChange) {
	for _, change := range changes {
		s.metrics.Transitioned(ctx, change)
		if s.events == nil {
			continue
		}

		event := domain.OrderEvent{
			EventID:       uuid.NewString(),
			OrderID:       o.ID,
			OrderCode:     o.Code,
			CustomerID:    o.CustomerID,
			CustomerEmail: o.CustomerEmail,
			From:          change.From,
			To:            change.To,
			Reason:        change.Reason,
			AmountDue:     o.AmountDue().StringFixed(2),
			Timestamp:     change.At,
		}
		if err := s.events.Publish(ctx, o.Code, event); err != nil {
			s.logger.Error("failed to publish order event", "error", err, "order_id", o.ID, "to", change.To)
		}
	}
}
