// Package config reads service settings from the environment. A .env file in
// the working directory is loaded first when it exists; variables already set
// in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	PostgresURL      string
	KafkaBrokers     []string
	OrderEventsTopic string
	JWTSecret        string
	ServiceName      string

	ORSAPIKey  string
	ORSBaseURL string
	FeeTimeout time.Duration

	Mpesa          Mpesa
	PaymentTimeout time.Duration
}

type Mpesa struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
}

// Enabled reports whether enough credentials are set to call the gateway.
func (m Mpesa) Enabled() bool {
	return m.ConsumerKey != "" && m.ConsumerSecret != "" && m.Shortcode != "" && m.Passkey != ""
}

// Load reads the orders service configuration.
func Load() (Config, error) {
	_ = godotenv.Load()

	feeTimeout, err := duration("FEE_TIMEOUT", 3*time.Second)
	if err != nil {
		return Config{}, err
	}
	paymentTimeout, err := duration("PAYMENT_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:             getenv("PORT", "8081"),
		PostgresURL:      os.Getenv("POSTGRES_URL"),
		KafkaBrokers:     List("KAFKA_BROKERS"),
		OrderEventsTopic: getenv("ORDER_EVENTS_TOPIC", "order.events"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		ServiceName:      getenv("OTEL_SERVICE_NAME", "orders"),
		ORSAPIKey:        os.Getenv("ORS_API_KEY"),
		ORSBaseURL:       os.Getenv("ORS_BASE_URL"),
		FeeTimeout:       feeTimeout,
		Mpesa: Mpesa{
			BaseURL:        os.Getenv("MPESA_BASE_URL"),
			ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			Shortcode:      os.Getenv("MPESA_SHORTCODE"),
			Passkey:        os.Getenv("MPESA_PASSKEY"),
			CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
		},
		PaymentTimeout: paymentTimeout,
	}

	var missing []string
	if cfg.PostgresURL == "" {
		missing = append(missing, "POSTGRES_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// Require returns the value of key, loading .env first.
func Require(key string) (string, error) {
	_ = godotenv.Load()
	v := os.Getenv(key)
	if v == "" {
		return "", errors.New(key + " environment variable is required")
	}
	return v, nil
}

// Get returns the value of key or def when it is unset.
func Get(key, def string) string {
	_ = godotenv.Load()
	return getenv(key, def)
}

// List splits a comma separated variable, dropping empty entries.
func List(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
