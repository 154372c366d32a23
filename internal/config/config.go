package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

const defaultShippingTiers = "5:150,10:250,15:350,20:450,25:550"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIBaseURL    string

	PaymentCurrency    string
	PaymentMethodTypes []string
	PaymentMaxAmount   int64
	PaymentMaxLines    int
	Shipping           pricing.ShippingPolicy

	IdempotencyTTL       time.Duration
	WebhookReplayTTL     time.Duration
	RateLimitBackend     string
	RateLimitCheckoutMax int
	RateLimitWindow      time.Duration
	HTTPBodyLimitBytes   int64

	OutboundTimeout             time.Duration
	RetryMaxAttempts            int
	RetryBase                   time.Duration
	RetryJitterPercent          float64
	CircuitProcessorMinReq      int
	CircuitProcessorFailureRate float64
	CircuitProcessorOpenFor     time.Duration

	KafkaBrokers      []string
	KafkaOrdersTopic  string
	ReconcileQueue    string
	WorkerConcurrency int
	ReconcileMaxRetry int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(valueOrDefault(k.String("CORS_ALLOWED_ORIGINS"), "*")),

		StripeSecretKey:     strings.TrimSpace(k.String("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(k.String("STRIPE_WEBHOOK_SECRET")),
		StripeAPIBaseURL:    strings.TrimSpace(k.String("STRIPE_API_BASE_URL")),

		PaymentMethodTypes: splitAndTrim(valueOrDefault(k.String("PAYMENT_METHOD_TYPES"), "card")),
		PaymentMaxAmount:   parseInt64(k.String("PAYMENT_MAX_AMOUNT_MINOR"), 99_999_999),
		PaymentMaxLines:    parseInt(k.String("PAYMENT_MAX_LINE_ITEMS"), 12),

		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		WebhookReplayTTL:     parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		RateLimitBackend:     strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_BACKEND"), "sliding")),
		RateLimitCheckoutMax: parseInt(k.String("RATE_LIMIT_CHECKOUT_MAX"), 30),
		RateLimitWindow:      parseDuration(k.String("RATE_LIMIT_CHECKOUT_WINDOW"), "1m"),
		HTTPBodyLimitBytes:   parseInt64(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20),

		OutboundTimeout:             parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		RetryMaxAttempts:            parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:                   parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryJitterPercent:          parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),
		CircuitProcessorMinReq:      parseInt(k.String("CIRCUIT_PROCESSOR_MIN_REQ"), 10),
		CircuitProcessorFailureRate: parseFloat(k.String("CIRCUIT_PROCESSOR_FAILURE_RATE"), 0.5),
		CircuitProcessorOpenFor:     parseDuration(k.String("CIRCUIT_PROCESSOR_OPEN_FOR"), "30s"),

		KafkaBrokers:      splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaOrdersTopic:  valueOrDefault(k.String("KAFKA_ORDERS_TOPIC"), "orders.paid"),
		ReconcileQueue:    valueOrDefault(k.String("RECONCILE_QUEUE"), "reconcile"),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		ReconcileMaxRetry: parseInt(k.String("RECONCILE_MAX_RETRY"), 10),
	}

	code, err := parseCurrency(valueOrDefault(k.String("PAYMENT_CURRENCY"), "mxn"))
	if err != nil {
		return nil, err
	}
	cfg.PaymentCurrency = code

	policy, err := parseShipping(
		valueOrDefault(k.String("SHIPPING_TIERS"), defaultShippingTiers),
		valueOrDefault(k.String("SHIPPING_OVERFLOW_STEP_ITEMS"), "5"),
		valueOrDefault(k.String("SHIPPING_OVERFLOW_STEP_COST"), "100"),
	)
	if err != nil {
		return nil, err
	}
	cfg.Shipping = policy

	if cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}
	if cfg.PaymentMaxAmount <= 0 {
		return nil, fmt.Errorf("PAYMENT_MAX_AMOUNT_MINOR must be positive, got %d", cfg.PaymentMaxAmount)
	}
	if cfg.PaymentMaxLines <= 0 || cfg.PaymentMaxLines*4 > 50 {
		return nil, fmt.Errorf("PAYMENT_MAX_LINE_ITEMS must be between 1 and 12, got %d", cfg.PaymentMaxLines)
	}
	switch cfg.RateLimitBackend {
	case "sliding", "fixed", "memory":
	default:
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be sliding, fixed or memory, got %q", cfg.RateLimitBackend)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// MaxOrderTotal is the processor ceiling expressed in major units.
func (c *Config) MaxOrderTotal() decimal.Decimal {
	return decimal.New(c.PaymentMaxAmount, -2)
}

// parseCurrency accepts an ISO 4217 code in any case and returns it lower-cased, as the processor expects.
func parseCurrency(value string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(value)))
	if err != nil {
		return "", fmt.Errorf("PAYMENT_CURRENCY: %w", err)
	}
	return strings.ToLower(unit.String()), nil
}

func parseShipping(tiersCSV, stepItems, stepCost string) (pricing.ShippingPolicy, error) {
	tiers, err := pricing.ParseTiers(tiersCSV)
	if err != nil {
		return pricing.ShippingPolicy{}, fmt.Errorf("SHIPPING_TIERS: %w", err)
	}
	items, err := strconv.Atoi(strings.TrimSpace(stepItems))
	if err != nil {
		return pricing.ShippingPolicy{}, fmt.Errorf("SHIPPING_OVERFLOW_STEP_ITEMS: %w", err)
	}
	cost, err := decimal.NewFromString(strings.TrimSpace(stepCost))
	if err != nil {
		return pricing.ShippingPolicy{}, fmt.Errorf("SHIPPING_OVERFLOW_STEP_COST: %w", err)
	}
	policy := pricing.ShippingPolicy{
		Tiers:    tiers,
		Overflow: pricing.Overflow{StepItems: items, StepCost: cost},
	}
	if err := policy.Validate(); err != nil {
		return pricing.ShippingPolicy{}, err
	}
	return policy, nil
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseInt64(value string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
