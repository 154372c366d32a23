package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/pricing"
	"github.com/noah-isme/toko-checkout/internal/ratelimit"
	"github.com/noah-isme/toko-checkout/internal/reconcile"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// Dependencies holds the long-lived collaborators shared by the HTTP routes.
type Dependencies struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Redis      *redis.Client
	Limiter    ratelimit.Limiter
	TaskClient *asynq.Client
	Breaker    *resilience.Breaker
	Engine     *pricing.Engine
	Builder    *payment.Builder
	Reconciler payment.Reconciler
}

// Build connects to Redis (when configured) and assembles the checkout services.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, instrumentMetrics bool) (*Dependencies, error) {
	deps := &Dependencies{Config: cfg, Logger: logger}
	if cfg.RedisURL != "" {
		client, err := NewRedis(ctx, cfg.RedisURL, instrumentMetrics, logger)
		if err != nil {
			return nil, err
		}
		deps.Redis = client
		taskClient, err := NewTaskClient(cfg.RedisURL)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.TaskClient = taskClient
		deps.Reconciler = reconcile.Enqueuer{
			Client:    taskClient,
			Queue:     cfg.ReconcileQueue,
			MaxRetry:  cfg.ReconcileMaxRetry,
			Retention: cfg.WebhookReplayTTL,
		}
	} else {
		logger.Warn().Msg("REDIS_URL not set: idempotency, webhook replay protection and reconciliation disabled")
	}

	lim, err := NewLimiter(cfg.RateLimitBackend, deps.Redis)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Limiter = lim

	engine, err := pricing.NewEngine(cfg.Shipping, cfg.MaxOrderTotal())
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Engine = engine

	deps.Breaker = resilience.NewBreaker(cfg.CircuitProcessorMinReq, cfg.CircuitProcessorFailureRate, cfg.CircuitProcessorOpenFor).
		WithTarget("stripe").
		WithLogger(logger)
	processor, err := payment.NewStripeProcessor(payment.StripeConfig{
		SecretKey:  cfg.StripeSecretKey,
		BaseURL:    cfg.StripeAPIBaseURL,
		HTTPClient: ProcessorHTTPClient(cfg, deps.Breaker, logger),
		Logger:     logger,
	})
	if err != nil {
		deps.Close()
		return nil, err
	}
	builder, err := payment.NewBuilder(engine, processor, payment.Config{
		Currency:           cfg.PaymentCurrency,
		PaymentMethodTypes: cfg.PaymentMethodTypes,
		MaxAmountMinor:     cfg.PaymentMaxAmount,
		MaxLineItems:       cfg.PaymentMaxLines,
	}, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Builder = builder
	return deps, nil
}

// Close releases network clients.
func (d *Dependencies) Close() {
	if d.TaskClient != nil {
		if err := d.TaskClient.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
}

// NewRedis opens an instrumented Redis client and verifies connectivity.
func NewRedis(ctx context.Context, url string, instrumentMetrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if instrumentMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewLimiterStore wires a ulule rate limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "rl:fixed"})
}

// NewLimiter selects the checkout rate limiter. Without Redis every backend falls back to memory.
func NewLimiter(backend string, rdb *redis.Client) (ratelimit.Limiter, error) {
	if rdb == nil || backend == "memory" {
		return ratelimit.NewMemory("rl:mem"), nil
	}
	switch backend {
	case "", "sliding":
		return ratelimit.SlidingWindow{Client: rdb, Prefix: "rl:sliding:"}, nil
	case "fixed":
		store, err := NewLimiterStore(rdb)
		if err != nil {
			return nil, fmt.Errorf("limiter store: %w", err)
		}
		return ratelimit.FixedWindow{Store: store}, nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", backend)
	}
}

// ProcessorHTTPClient builds the client used for every processor call: one traced
// span per attempt, wrapped in retries and the processor circuit breaker.
func ProcessorHTTPClient(cfg *config.Config, breaker *resilience.Breaker, logger zerolog.Logger) *http.Client {
	return &http.Client{
		Transport: &resilience.Transport{
			Base:        otelhttp.NewTransport(http.DefaultTransport),
			Breaker:     breaker,
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.RetryMaxAttempts,
			Jitter:      cfg.RetryJitterPercent,
			Timeout:     cfg.OutboundTimeout,
			Target:      "stripe",
			Logger:      &logger,
		},
	}
}

// NewTaskClient opens an asynq client on the given Redis URL.
func NewTaskClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse asynq redis uri: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// NewTaskServer builds the asynq server processing reconciliation tasks.
func NewTaskServer(cfg *config.Config, logger zerolog.Logger) (*asynq.Server, error) {
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required for the worker")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse asynq redis uri: %w", err)
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{cfg.ReconcileQueue: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return RetryDelay(cfg.RetryBase, n, cfg.RetryJitterPercent)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().Err(err).Str("task_type", task.Type()).Int("retried", retried).Int("max_retry", maxRetry).Msg("task failed")
		}),
		Logger:   asynqLogger{logger: logger.With().Str("component", "asynq").Logger()},
		LogLevel: asynq.WarnLevel,
	}), nil
}

const maxRetryDelay = 10 * time.Minute

// RetryDelay applies resilience.Backoff to asynq retries, capped at ten minutes.
func RetryDelay(base time.Duration, retried int, jitter float64) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retried > 16 {
		return maxRetryDelay
	}
	d := resilience.Backoff(base, retried+1, jitter)
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// NewPublisher returns the Kafka publisher when brokers are configured, otherwise a log publisher.
func NewPublisher(cfg *config.Config, logger zerolog.Logger) (reconcile.Publisher, func() error, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn().Msg("KAFKA_BROKERS not set: order paid messages are only logged")
		return reconcile.LogPublisher{Logger: logger}, func() error { return nil }, nil
	}
	pub, err := reconcile.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaOrdersTopic)
	if err != nil {
		return nil, nil, err
	}
	return pub, pub.Close, nil
}

type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
