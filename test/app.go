package test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/joao-fontenele/grocerflow/internal/auth"
	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/fees"
	"github.com/joao-fontenele/grocerflow/internal/inventory"
	"github.com/joao-fontenele/grocerflow/internal/orders"
	"github.com/joao-fontenele/grocerflow/internal/payment"
)

// Seeded by migrations/000001_init.up.sql.
const (
	AdminID      int64 = 1
	AnnID        int64 = 2
	BobID        int64 = 3
	OwnerID      int64 = 4
	DriverUserID int64 = 5
	StoreID      int64 = 1
	DriverID     int64 = 1
	HomeID       int64 = 1
	MilkID       int64 = 1
	BreadID      int64 = 2
)

type fixedDistance float64

func (d fixedDistance) Distance(context.Context, string, string) (float64, error) {
	return float64(d), nil
}

// StubGateway accepts every push and hands out sequential checkout ids.
type StubGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *StubGateway) STKPush(_ context.Context, _ string, _ int64) (payment.STKPushResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return payment.STKPushResult{
		CheckoutRequestID: "ws_CO_" + time.Now().Format("150405.000000"),
		ResponseCode:      "0",
	}, nil
}

// App is the orders service wired the same way cmd/orders wires it, minus
// telemetry and the real third-party clients.
type App struct {
	Server *httptest.Server
	Ledger *inventory.Ledger
	auth   *auth.Authenticator
}

func NewApp(t *testing.T, db *sql.DB, events orders.EventPublisher) *App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := inventory.NewLedger(db, nil)
	repo := orders.NewRepository(db, ledger)
	estimator := fees.NewEstimator(fixedDistance(1500), time.Second, nil, logger)
	service := orders.NewService(repo, estimator, events, logger)
	payments := payment.NewService(service, &StubGateway{}, payment.NewRepository(db), time.Second, logger)

	authn := auth.NewAuthenticator("integration-secret", logger)
	orderHandler := orders.NewHandler(service, logger)
	stockHandler := inventory.NewHandler(ledger, logger)
	paymentHandler := payment.NewHandler(payments, logger)

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, authn.Middleware(h))
	}
	route("POST /orders", orderHandler.HandleCreate)
	route("GET /orders", orderHandler.HandleList)
	route("GET /orders/{id}", orderHandler.HandleGet)
	route("PATCH /orders/{id}", orderHandler.HandleUpdate)
	route("DELETE /orders/{id}", orderHandler.HandleCancel)
	route("PATCH /orders/{id}/assign-store/{storeId}", orderHandler.HandleAssignStore)
	route("PATCH /orders/{id}/assign-driver/{driverId}", orderHandler.HandleAssignDriver)
	route("PATCH /orders/{id}/status", orderHandler.HandleUpdateStatus)
	route("GET /products/{id}/stock", stockHandler.HandleGetStock)
	route("POST /payments", paymentHandler.HandleInitiate)
	mux.HandleFunc("POST /payments/callback", paymentHandler.HandleCallback)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &App{Server: srv, Ledger: ledger, auth: authn}
}

// Token signs a bearer token for the given user.
func (a *App) Token(t *testing.T, id int64, role domain.Role) string {
	t.Helper()
	token, err := a.auth.Issue(domain.Principal{ID: id, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}
