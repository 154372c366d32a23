package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/health"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/ratelimit"
	"github.com/noah-isme/toko-checkout/internal/security"
)

// RouterOptions carries the cross-cutting pieces owned by the binary.
type RouterOptions struct {
	Metrics        *obs.HTTPMetrics
	MetricsHandler http.Handler
	Pprof          http.Handler // mounted at /debug
	Tracing        bool
	Headers        security.Headers
}

// Router mounts the checkout API.
func (d *Dependencies) Router(opts RouterOptions) http.Handler {
	cfg := d.Config
	logger := d.Logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.Tracing {
		r.Use(obs.Tracing{}.Middleware)
	}
	if opts.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: opts.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(opts.Headers.Middleware)
	r.Use(security.CORS(strings.Join(cfg.CORSAllowedOrigins, ",")))
	r.Use(security.BodyLimit{Max: cfg.HTTPBodyLimitBytes}.Middleware)

	probes := health.Handler{
		Required:      map[string]health.Probe{},
		Informational: map[string]health.Probe{"stripe": health.BreakerProbe(d.Breaker)},
		Timeout:       2 * time.Second,
	}
	if d.Redis != nil {
		probes.Required["redis"] = health.RedisProbe(d.Redis)
	}
	r.Get("/health/live", probes.Live)
	r.Get("/health/ready", probes.Ready)

	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}
	if opts.Pprof != nil {
		r.Mount("/debug", opts.Pprof)
	}

	cartHandler := &cart.Handler{Engine: d.Engine, Currency: cfg.PaymentCurrency}
	r.Post("/cart/totals", cartHandler.Totals)

	intentHandler := &payment.Handler{Builder: d.Builder}
	limited := ratelimit.Handler{
		Limiter: d.Limiter,
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("checkout"),
			Window: cfg.RateLimitWindow,
			Max:    cfg.RateLimitCheckoutMax,
		},
		OnError: limiterErrorLogger(logger),
	}
	r.Group(func(gr chi.Router) {
		gr.Use(limited.Middleware)
		gr.Use(common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}.Middleware)
		gr.Post("/stripe/create-payment-intent", intentHandler.CreateIntent)
	})

	if cfg.StripeWebhookSecret != "" && d.Reconciler != nil {
		hook := payment.Webhook{
			Secret:     cfg.StripeWebhookSecret,
			Replay:     d.Redis,
			ReplayTTL:  cfg.WebhookReplayTTL,
			Reconciler: d.Reconciler,
			Logger:     logger,
		}
		r.Post("/stripe/webhook", hook.Handle)
	} else {
		logger.Info().Msg("stripe webhook disabled")
	}

	return r
}

func limiterErrorLogger(logger zerolog.Logger) func(error) {
	return func(err error) {
		logger.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
	}
}
