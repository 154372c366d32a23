package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeConfig configures the Stripe-backed processor. The key is injected once at startup.
type StripeConfig struct {
	SecretKey  string
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// StripeProcessor creates payment intents through the Stripe API.
type StripeProcessor struct {
	api *client.API
}

// NewStripeProcessor builds a processor with its own backend so no package-level Stripe state is touched.
func NewStripeProcessor(cfg StripeConfig) (*StripeProcessor, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient: httpClient,
		// Retries are owned by the resilience transport.
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     stripeLogger{logger: cfg.Logger},
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		backendCfg.URL = stripe.String(base)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	api := client.New(key, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripeProcessor{api: api}, nil
}

// Name identifies the processor in metrics and logs.
func (p *StripeProcessor) Name() string { return "stripe" }

// CreatePaymentIntent opens a PaymentIntent and returns its id and client secret.
func (p *StripeProcessor) CreatePaymentIntent(ctx context.Context, req IntentRequest) (IntentHandle, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountMinor),
		Currency:           stripe.String(req.Currency),
		PaymentMethodTypes: stripe.StringSlice(req.PaymentMethodTypes),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return IntentHandle{}, classifyStripeError(err)
	}
	return IntentHandle{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func classifyStripeError(err error) *ProcessorError {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &ProcessorError{
			Code:       string(se.Code),
			Type:       string(se.Type),
			Message:    se.Msg,
			HTTPStatus: se.HTTPStatusCode,
			RequestID:  se.RequestID,
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ProcessorError{Code: "canceled", Message: err.Error(), Err: err}
	}
	return &ProcessorError{Code: "network_error", Message: err.Error(), Err: err}
}

// stripeLogger routes SDK logs into zerolog at debug level and above.
type stripeLogger struct {
	logger zerolog.Logger
}

func (l stripeLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (l stripeLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (l stripeLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Str("component", "stripe").Msgf(format, v...)
}

func (l stripeLogger) Errorf(format string, v ...interface{}) {
	l.logger.Warn().Str("component", "stripe").Msgf(format, v...)
}
