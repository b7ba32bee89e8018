package payment

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/grocerflow/internal/auth"
	"github.com/joao-fontenele/grocerflow/internal/domain"
)

func newTestMux(svc *Service) *http.ServeMux {
	h := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments", h.HandleInitiate)
	mux.HandleFunc("POST /payments/callback", h.HandleCallback)
	return mux
}

func postAs(mux http.Handler, p *domain.Principal, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleInitiate(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc, _, _, _ := newFixture()
		rec := postAs(newTestMux(svc), &customer, "/payments", `{"order_id":7,"phone_number":"254712345678"}`)
		if rec.Code != http.StatusCreated {
			t.Errorf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("gateway down is 502", func(t *testing.T) {
		svc, _, gateway, _ := newFixture()
		gateway.err = errors.New("timeout")
		rec := postAs(newTestMux(svc), &customer, "/payments", `{"order_id":7,"phone_number":"254712345678"}`)
		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "timeout") {
			t.Errorf("upstream error leaked: %s", rec.Body.String())
		}
	})

	t.Run("invalid phone", func(t *testing.T) {
		svc, _, _, _ := newFixture()
		rec := postAs(newTestMux(svc), &customer, "/payments", `{"order_id":7,"phone_number":"call me"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHandleCallback(t *testing.T) {
	svc, orders, _, _ := newFixture()
	if _, err := svc.Initiate(t.Context(), customer, 7, "254712345678"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	mux := newTestMux(svc)

	rec := postAs(mux, nil, "/payments/callback",
		`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"The service request is processed successfully."}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(orders.confirmed) != 1 || orders.confirmed[0] != domain.PaymentStatusSuccess {
		t.Errorf("unexpected confirmations %v", orders.confirmed)
	}

	rec = postAs(mux, nil, "/payments/callback", `{"Body":{"stkCallback":{}}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing checkout id, got %d", rec.Code)
	}
}
