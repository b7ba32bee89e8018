package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/joao-fontenele/grocerflow/internal/auth"
	"github.com/joao-fontenele/grocerflow/internal/config"
	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/fees"
	"github.com/joao-fontenele/grocerflow/internal/geo"
	"github.com/joao-fontenele/grocerflow/internal/httpx"
	"github.com/joao-fontenele/grocerflow/internal/inventory"
	"github.com/joao-fontenele/grocerflow/internal/messaging"
	"github.com/joao-fontenele/grocerflow/internal/orders"
	"github.com/joao-fontenele/grocerflow/internal/payment"
	"github.com/joao-fontenele/grocerflow/internal/telemetry"
)

const serviceVersion = "0.1.0"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := otelruntime.Start(); err != nil {
		logger.Error("failed to start runtime metrics", "error", err)
		os.Exit(1)
	}

	metrics, err := telemetry.NewOrderMetrics()
	if err != nil {
		logger.Error("failed to register order metrics", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var events orders.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic)
		defer func() { _ = producer.Close() }()
		events = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events will not be published")
	}

	if cfg.ORSAPIKey == "" {
		logger.Warn("ORS_API_KEY not set, delivery fees will fall back to zero")
	}
	estimator := fees.NewEstimator(geo.NewClient(cfg.ORSBaseURL, cfg.ORSAPIKey), cfg.FeeTimeout, metrics, logger)

	ledger := inventory.NewLedger(db, metrics)
	repo := orders.NewRepository(db, ledger)
	service := orders.NewService(repo, estimator, events, logger, orders.WithMetrics(metrics))

	if !cfg.Mpesa.Enabled() {
		logger.Warn("M-Pesa credentials not set, payment initiation will fail")
	}
	gateway := payment.NewMpesaClient(payment.MpesaConfig{
		BaseURL:        cfg.Mpesa.BaseURL,
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		Shortcode:      cfg.Mpesa.Shortcode,
		Passkey:        cfg.Mpesa.Passkey,
		CallbackURL:    cfg.Mpesa.CallbackURL,
	})
	payments := payment.NewService(service, gateway, payment.NewRepository(db), cfg.PaymentTimeout, logger)

	authn := auth.NewAuthenticator(cfg.JWTSecret, logger)
	orderHandler := orders.NewHandler(service, logger)
	stockHandler := inventory.NewHandler(ledger, logger)
	paymentHandler := payment.NewHandler(payments, logger)

	// route registers an authenticated endpoint. No roles means any
	// authenticated principal.
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc, roles ...domain.Role) {
		if len(roles) > 0 {
			h = auth.Require(logger, h, roles...)
		}
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(authn.Middleware(h)))
	}

	route("POST /orders", orderHandler.HandleCreate, domain.RoleCustomer, domain.RoleAdmin)
	route("GET /orders", orderHandler.HandleList)
	route("GET /orders/{id}", orderHandler.HandleGet)
	route("PATCH /orders/{id}", orderHandler.HandleUpdate)
	route("DELETE /orders/{id}", orderHandler.HandleCancel)
	route("PATCH /orders/{id}/assign-store/{storeId}", orderHandler.HandleAssignStore, domain.RoleAdmin, domain.RoleStoreOwner)
	route("PATCH /orders/{id}/assign-driver/{driverId}", orderHandler.HandleAssignDriver, domain.RoleAdmin, domain.RoleStoreOwner, domain.RoleDriver)
	route("PATCH /orders/{id}/status", orderHandler.HandleUpdateStatus, domain.RoleStoreOwner, domain.RoleDriver, domain.RoleAdmin)

	route("POST /stock/decrement", stockHandler.HandleDecrement, domain.RoleAdmin)
	route("GET /products/{id}/stock", stockHandler.HandleGetStock)
	route("DELETE /products/{id}", stockHandler.HandleRemoveProduct, domain.RoleAdmin, domain.RoleStoreOwner)

	route("POST /payments", paymentHandler.HandleInitiate, domain.RoleCustomer)
	mux.HandleFunc("POST /payments/callback", telemetry.WithHTTPRoute(paymentHandler.HandleCallback))

	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			httpx.WriteStatus(w, logger, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		httpx.WriteJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	})

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpx.RequestID(httpx.Logger(logger)(otelhttp.NewHandler(mux, cfg.ServiceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		))),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
