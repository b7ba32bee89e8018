package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/messaging"
)

// NotificationHandler turns order events into customer emails.
type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

type message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return messaging.Permanent(fmt.Errorf("unmarshal order event: %w", err))
	}

	msg, ok := compose(event)
	if !ok {
		h.logger.Debug("no notification for status", "order_id", event.OrderID, "status", event.To)
		return nil
	}
	if msg.To == "" {
		h.logger.Warn("order event without customer email", "order_id", event.OrderID, "status", event.To)
		return nil
	}

	if err := h.sendEmail(ctx, msg); err != nil {
		h.logger.Error("failed to send notification", "error", err, "order_id", event.OrderID, "status", event.To)
		return fmt.Errorf("send %s notification: %w", event.To, err)
	}

	h.logger.Info("notification sent", "order_id", event.OrderID, "status", event.To, "event_id", event.EventID)
	return nil
}

// compose returns false for statuses the customer is not told about.
func compose(e domain.OrderEvent) (message, bool) {
	m := message{To: e.CustomerEmail}
	switch e.To {
	case domain.OrderStatusAccepted:
		m.Subject = "Order Confirmation: " + e.OrderCode
		m.Body = fmt.Sprintf("Your order %s has been confirmed. Amount due: %s.", e.OrderCode, e.AmountDue)
	case domain.OrderStatusOutForDelivery:
		m.Subject = "Out for delivery: " + e.OrderCode
		m.Body = fmt.Sprintf("Your order %s is on its way.", e.OrderCode)
	case domain.OrderStatusDelivered:
		m.Subject = "Delivered: " + e.OrderCode
		m.Body = fmt.Sprintf("Your order %s has been delivered. Enjoy!", e.OrderCode)
	case domain.OrderStatusCancelled:
		m.Subject = "Order Cancelled: " + e.OrderCode
		m.Body = fmt.Sprintf("Your order %s has been cancelled.", e.OrderCode)
	case domain.OrderStatusFailed:
		m.Subject = "Order Failed: " + e.OrderCode
		m.Body = fmt.Sprintf("We could not fulfil your order %s. Any payment you made will be refunded.", e.OrderCode)
	default:
		return message{}, false
	}
	return m, true
}

func (h *NotificationHandler) sendEmail(ctx context.Context, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
