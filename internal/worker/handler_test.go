package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/messaging"
)

type mailbox struct {
	mu     sync.Mutex
	sent   []message
	status int
}

func (m *mailbox) serve(w http.ResponseWriter, r *http.Request) {
	var msg message
	_ = json.NewDecoder(r.Body).Decode(&msg)
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	if m.status != 0 {
		w.WriteHeader(m.status)
		return
	}
	_, _ = w.Write([]byte(`{"status":"sent"}`))
}

func newHandler(t *testing.T, box *mailbox) *NotificationHandler {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(box.serve))
	t.Cleanup(srv.Close)
	return NewNotificationHandler(srv.URL, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func payload(t *testing.T, to domain.OrderStatus, email string) []byte {
	t.Helper()
	data, err := json.Marshal(domain.OrderEvent{
		EventID:       "e-1",
		OrderID:       7,
		OrderCode:     "ORDAB12CD",
		CustomerEmail: email,
		To:            to,
		AmountDue:     "128.34",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestNotificationHandler_Handle(t *testing.T) {
	tests := []struct {
		status  domain.OrderStatus
		subject string
		body    string
	}{
		{domain.OrderStatusAccepted, "Order Confirmation: ORDAB12CD", "128.34"},
		{domain.OrderStatusOutForDelivery, "Out for delivery: ORDAB12CD", "on its way"},
		{domain.OrderStatusDelivered, "Delivered: ORDAB12CD", "delivered"},
		{domain.OrderStatusCancelled, "Order Cancelled: ORDAB12CD", "cancelled"},
		{domain.OrderStatusFailed, "Order Failed: ORDAB12CD", "refunded"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			box := &mailbox{}
			h := newHandler(t, box)

			if err := h.Handle(context.Background(), payload(t, tt.status, "ann@example.com")); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(box.sent) != 1 {
				t.Fatalf("expected 1 email, got %d", len(box.sent))
			}
			got := box.sent[0]
			if got.To != "ann@example.com" || got.Subject != tt.subject {
				t.Errorf("unexpected email %+v", got)
			}
			if !strings.Contains(got.Body, tt.body) {
				t.Errorf("expected body to mention %q, got %q", tt.body, got.Body)
			}
		})
	}

	t.Run("silent statuses", func(t *testing.T) {
		box := &mailbox{}
		h := newHandler(t, box)
		for _, st := range []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusPreparing, domain.OrderStatusReadyForPickup} {
			if err := h.Handle(context.Background(), payload(t, st, "ann@example.com")); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if len(box.sent) != 0 {
			t.Errorf("expected no emails, got %d", len(box.sent))
		}
	})

	t.Run("missing email is skipped", func(t *testing.T) {
		box := &mailbox{}
		h := newHandler(t, box)
		if err := h.Handle(context.Background(), payload(t, domain.OrderStatusAccepted, "")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(box.sent) != 0 {
			t.Errorf("expected no emails, got %d", len(box.sent))
		}
	})

	t.Run("email service failure", func(t *testing.T) {
		box := &mailbox{status: http.StatusServiceUnavailable}
		h := newHandler(t, box)
		if err := h.Handle(context.Background(), payload(t, domain.OrderStatusDelivered, "ann@example.com")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		h := newHandler(t, &mailbox{})
		err := h.Handle(context.Background(), []byte("{"))
		if !messaging.IsPermanent(err) {
			t.Errorf("expected permanent error, got %v", err)
		}
	})
}
