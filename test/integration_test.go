//go:build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/messaging"
	"github.com/joao-fontenele/grocerflow/internal/worker"
)

func do(t *testing.T, app *App, token, method, path, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, app.Server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response, want int) T {
	t.Helper()

	var v T
	if resp.StatusCode != want {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, data)
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func setup(t *testing.T, ctx context.Context) *App {
	t.Helper()

	pg := SetupPostgres(ctx, t)
	t.Cleanup(pg.Cleanup)

	db, err := OpenDB(ctx, pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewApp(t, db, nil)
}

func stockOf(t *testing.T, ctx context.Context, app *App, productID int64) int {
	t.Helper()
	level, err := app.Ledger.GetStock(ctx, productID)
	if err != nil {
		t.Fatalf("failed to read stock of %d: %v", productID, err)
	}
	return level.Stock
}

func schedule(d time.Duration) string {
	return time.Now().UTC().Add(d).Format(domain.DateLayout)
}

func TestPaidOrderTakesStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app := setup(t, ctx)
	ann := app.Token(t, AnnID, domain.RoleCustomer)

	milkBefore := stockOf(t, ctx, app, MilkID)
	breadBefore := stockOf(t, ctx, app, BreadID)

	body := fmt.Sprintf(`{"product_ids":[%d,%d],"payment_status":"success","delivery_schedule_at":%q}`,
		MilkID, BreadID, schedule(72*time.Hour))
	order := decode[domain.Order](t, do(t, app, ann, http.MethodPost, "/orders", body), http.StatusCreated)

	if order.Status != domain.OrderStatusAccepted {
		t.Fatalf("expected status %s, got %s", domain.OrderStatusAccepted, order.Status)
	}
	if !domain.ValidOrderCode(order.Code) {
		t.Fatalf("malformed order code %q", order.Code)
	}
	if got := order.TotalAmount.StringFixed(2); got != "3.70" {
		t.Fatalf("expected total 3.70, got %s", got)
	}
	if got := stockOf(t, ctx, app, MilkID); got != milkBefore-1 {
		t.Fatalf("expected milk stock %d, got %d", milkBefore-1, got)
	}
	if got := stockOf(t, ctx, app, BreadID); got != breadBefore-1 {
		t.Fatalf("expected bread stock %d, got %d", breadBefore-1, got)
	}

	fetched := decode[domain.Order](t, do(t, app, ann, http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), ""), http.StatusOK)
	if fetched.Code != order.Code {
		t.Fatalf("order code changed from %s to %s", order.Code, fetched.Code)
	}

	resp := do(t, app, ann, http.MethodPost, "/orders",
		fmt.Sprintf(`{"product_ids":[%d,999],"delivery_schedule_at":%q}`, MilkID, schedule(72*time.Hour)))
	missing := decode[map[string]any](t, resp, http.StatusNotFound)
	if missing["error"] != "Missing products: 999" {
		t.Fatalf("unexpected error body %v", missing)
	}
}

func TestAssignStoreThenDriver(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app := setup(t, ctx)
	ann := app.Token(t, AnnID, domain.RoleCustomer)
	owner := app.Token(t, OwnerID, domain.RoleStoreOwner)
	driver := app.Token(t, DriverUserID, domain.RoleDriver)

	body := fmt.Sprintf(`{"items":[{"product_id":%d,"quantity":2}],"delivery_address_id":%d,"delivery_schedule_at":%q}`,
		MilkID, HomeID, schedule(72*time.Hour))
	order := decode[domain.Order](t, do(t, app, ann, http.MethodPost, "/orders", body), http.StatusCreated)
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}

	withStore := decode[domain.Order](t,
		do(t, app, owner, http.MethodPatch, fmt.Sprintf("/orders/%d/assign-store/%d", order.ID, StoreID), ""),
		http.StatusOK)
	if withStore.Status != domain.OrderStatusPreparing {
		t.Fatalf("expected preparing, got %s", withStore.Status)
	}
	if withStore.DeliveryFee == nil || withStore.DeliveryFee.StringFixed(2) != "150.00" {
		t.Fatalf("expected delivery fee 150.00, got %v", withStore.DeliveryFee)
	}

	dispatched := decode[domain.Order](t,
		do(t, app, driver, http.MethodPatch, fmt.Sprintf("/orders/%d/assign-driver/%d", order.ID, DriverID), ""),
		http.StatusOK)
	if dispatched.Status != domain.OrderStatusOutForDelivery {
		t.Fatalf("expected out_for_delivery, got %s", dispatched.Status)
	}
	if dispatched.StoreID == nil || *dispatched.StoreID != StoreID {
		t.Fatalf("expected store %d, got %v", StoreID, dispatched.StoreID)
	}
	if dispatched.DriverID == nil || *dispatched.DriverID != DriverID {
		t.Fatalf("expected driver %d, got %v", DriverID, dispatched.DriverID)
	}

	resp := do(t, app, owner, http.MethodPatch, fmt.Sprintf("/orders/%d/assign-store/%d", order.ID, StoreID), "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected reassigning the store after dispatch to fail, got %d", resp.StatusCode)
	}
}

func TestCustomerCancellationWindow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app := setup(t, ctx)
	ann := app.Token(t, AnnID, domain.RoleCustomer)
	bob := app.Token(t, BobID, domain.RoleCustomer)

	create := func(in time.Duration) domain.Order {
		body := fmt.Sprintf(`{"product_ids":[%d],"delivery_schedule_at":%q}`, MilkID, schedule(in))
		return decode[domain.Order](t, do(t, app, ann, http.MethodPost, "/orders", body), http.StatusCreated)
	}

	later := create(48 * time.Hour)

	resp := do(t, app, bob, http.MethodDelete, fmt.Sprintf("/orders/%d", later.ID), "")
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected another customer to be rejected, got %d", resp.StatusCode)
	}

	msg := decode[map[string]string](t, do(t, app, ann, http.MethodDelete, fmt.Sprintf("/orders/%d", later.ID), ""), http.StatusOK)
	if msg["message"] != "Order cancelled successfully" {
		t.Fatalf("unexpected message %v", msg)
	}
	cancelled := decode[domain.Order](t, do(t, app, ann, http.MethodGet, fmt.Sprintf("/orders/%d", later.ID), ""), http.StatusOK)
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	soon := create(time.Hour)
	rejected := decode[map[string]any](t, do(t, app, ann, http.MethodDelete, fmt.Sprintf("/orders/%d", soon.ID), ""), http.StatusBadRequest)
	if rejected["error"] != "Cannot cancel within 24 hours of the scheduled time" {
		t.Fatalf("unexpected error %v", rejected)
	}
}

func TestPaymentCallbackConfirmsOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app := setup(t, ctx)
	ann := app.Token(t, AnnID, domain.RoleCustomer)

	body := fmt.Sprintf(`{"items":[{"product_id":%d,"quantity":3}],"payment_method":"mpesa","delivery_schedule_at":%q}`,
		BreadID, schedule(72*time.Hour))
	order := decode[domain.Order](t, do(t, app, ann, http.MethodPost, "/orders", body), http.StatusCreated)
	breadBefore := stockOf(t, ctx, app, BreadID)

	pay := decode[domain.Payment](t,
		do(t, app, ann, http.MethodPost, "/payments", fmt.Sprintf(`{"order_id":%d,"phone_number":"254712345678"}`, order.ID)),
		http.StatusCreated)
	if pay.CheckoutRequestID == "" || pay.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected payment %+v", pay)
	}

	callback := fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"ok"}}}`,
		pay.CheckoutRequestID)
	for range 2 {
		ack := decode[map[string]any](t, do(t, app, "", http.MethodPost, "/payments/callback", callback), http.StatusOK)
		if ack["ResultCode"] != float64(0) {
			t.Fatalf("unexpected ack %v", ack)
		}
	}

	paid := decode[domain.Order](t, do(t, app, ann, http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), ""), http.StatusOK)
	if paid.Status != domain.OrderStatusAccepted || paid.PaymentStatus != domain.PaymentStatusSuccess {
		t.Fatalf("expected accepted/success, got %s/%s", paid.Status, paid.PaymentStatus)
	}
	if paid.PaymentID == nil || *paid.PaymentID != pay.ID {
		t.Fatalf("expected payment %d on order, got %v", pay.ID, paid.PaymentID)
	}
	if got := stockOf(t, ctx, app, BreadID); got != breadBefore-3 {
		t.Fatalf("expected bread stock %d after a replayed callback, got %d", breadBefore-3, got)
	}
}

type emailCapture struct {
	mu     sync.Mutex
	emails []map[string]string
	got    chan struct{}
}

func (e *emailCapture) handler(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	e.emails = append(e.emails, req)
	e.mu.Unlock()
	select {
	case e.got <- struct{}{}:
	default:
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"status":"sent"}`)
}

func (e *emailCapture) getEmails() []map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]map[string]string, len(e.emails))
	copy(result, e.emails)
	return result
}

func TestOrderEventsReachNotificationWorker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	brokers, cleanupKafka := SetupKafka(ctx, t)
	defer cleanupKafka()

	db, err := OpenDB(ctx, pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	producer := messaging.NewProducer(brokers, "order.events")
	defer func() { _ = producer.Close() }()

	app := NewApp(t, db, producer)
	ann := app.Token(t, AnnID, domain.RoleCustomer)

	body := fmt.Sprintf(`{"product_ids":[%d],"payment_status":"success","delivery_schedule_at":%q}`, MilkID, schedule(72*time.Hour))
	order := decode[domain.Order](t, do(t, app, ann, http.MethodPost, "/orders", body), http.StatusCreated)

	capture := &emailCapture{got: make(chan struct{}, 1)}
	emailMux := http.NewServeMux()
	emailMux.HandleFunc("POST /send", capture.handler)
	emailServer := httptest.NewServer(emailMux)
	defer emailServer.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := worker.NewNotificationHandler(emailServer.URL, &http.Client{Timeout: 10 * time.Second}, logger)
	consumer := messaging.NewConsumer(brokers, "order.events", "integration-worker", messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = consumer.Consume(consumeCtx, handler.Handle) }()

	select {
	case <-capture.got:
	case <-ctx.Done():
		t.Fatal("timed out waiting for the confirmation email")
	}

	emails := capture.getEmails()
	if len(emails) != 1 {
		t.Fatalf("expected 1 email, got %d", len(emails))
	}
	if emails[0]["to"] != "ann@grocerflow.test" {
		t.Fatalf("expected email to ann, got %s", emails[0]["to"])
	}
	if !strings.Contains(emails[0]["subject"], order.Code) || !strings.Contains(emails[0]["subject"], "Confirmation") {
		t.Fatalf("unexpected subject %q", emails[0]["subject"])
	}
}
