package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Config fixes the processor-facing parameters of every intent the builder creates.
type Config struct {
	Currency           string
	PaymentMethodTypes []string
	MaxAmountMinor     int64
	MaxLineItems       int
}

// Request is a checkout submission. AttemptID, when set, makes processor-side creation idempotent.
type Request struct {
	Cart      pricing.Cart
	AttemptID string
}

// Intent is what the caller is allowed to see of a created payment intent.
type Intent struct {
	ClientSecret string
}

// Builder recomputes the chargeable amount server-side and opens a payment intent with the processor.
type Builder struct {
	engine    *pricing.Engine
	processor Processor
	cfg       Config
	logger    zerolog.Logger
}

// NewBuilder wires a builder. The processor client is shared across requests.
func NewBuilder(engine *pricing.Engine, processor Processor, cfg Config, logger zerolog.Logger) (*Builder, error) {
	if engine == nil {
		return nil, errors.New("payment: pricing engine is required")
	}
	if processor == nil {
		return nil, errors.New("payment: processor is required")
	}
	cfg.Currency = strings.ToLower(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		return nil, errors.New("payment: currency is required")
	}
	if len(cfg.PaymentMethodTypes) == 0 {
		cfg.PaymentMethodTypes = []string{"card"}
	}
	if cfg.MaxLineItems <= 0 {
		cfg.MaxLineItems = 12
	}
	return &Builder{engine: engine, processor: processor, cfg: cfg, logger: logger}, nil
}

// CreatePaymentIntent validates the cart, charges its full total (items plus shipping) and returns
// only the client secret. Validation failures never reach the processor.
func (b *Builder) CreatePaymentIntent(ctx context.Context, req Request) (Intent, error) {
	ctx, span := otel.Tracer("payment.Builder").Start(ctx, "PaymentBuilder.CreatePaymentIntent")
	defer span.End()

	start := time.Now()
	provider := processorName(b.processor)
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", provider),
			attribute.String("payment.intent.result", result),
			attribute.Float64("payment.intent.duration_ms", obs.DurationMillis(time.Since(start))),
		)
		if obs.PaymentIntentTotal != nil {
			obs.PaymentIntentTotal.WithLabelValues(provider, result).Inc()
		}
		if obs.PaymentIntentLatency != nil && result != "rejected" {
			obs.PaymentIntentLatency.WithLabelValues(provider).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	if len(req.Cart) > b.cfg.MaxLineItems {
		result = "rejected"
		return Intent{}, fmt.Errorf("%w: %d lines, at most %d", pricing.ErrTooManyItems, len(req.Cart), b.cfg.MaxLineItems)
	}
	totals, err := b.engine.ComputeTotals(req.Cart)
	if err != nil {
		result = "rejected"
		return Intent{}, err
	}
	amount, err := pricing.ToMinorUnits(totals.Total)
	if err != nil {
		result = "rejected"
		return Intent{}, err
	}
	if amount <= 0 {
		result = "rejected"
		return Intent{}, fmt.Errorf("%w: amount must be positive", pricing.ErrAmountOutOfRange)
	}
	if b.cfg.MaxAmountMinor > 0 && amount > b.cfg.MaxAmountMinor {
		result = "rejected"
		return Intent{}, fmt.Errorf("%w: %d exceeds processor maximum %d", pricing.ErrAmountOutOfRange, amount, b.cfg.MaxAmountMinor)
	}
	span.SetAttributes(
		attribute.Int64("payment.amount_minor", amount),
		attribute.Int("cart.lines", len(req.Cart)),
		attribute.Int("cart.item_count", totals.ItemCount),
	)

	intentReq := IntentRequest{
		AmountMinor:        amount,
		Currency:           b.cfg.Currency,
		PaymentMethodTypes: append([]string(nil), b.cfg.PaymentMethodTypes...),
		Metadata:           EncodeMetadata(req.Cart),
	}
	if attempt := strings.TrimSpace(req.AttemptID); attempt != "" {
		intentReq.IdempotencyKey = IdempotencyKey(attempt, req.Cart)
	}

	handle, err := b.processor.CreatePaymentIntent(ctx, intentReq)
	if err != nil {
		pe := asProcessorError(err)
		span.RecordError(pe)
		span.SetStatus(codes.Error, "processor failure")
		b.logger.Error().
			Err(pe.Err).
			Str("provider", provider).
			Str("processor_code", pe.Code).
			Str("processor_type", pe.Type).
			Int("processor_status", pe.HTTPStatus).
			Str("processor_request_id", pe.RequestID).
			Int64("amount_minor", amount).
			Msg("payment_intent_failed")
		return Intent{}, pe
	}
	if strings.TrimSpace(handle.ClientSecret) == "" {
		pe := &ProcessorError{Code: "missing_client_secret", Message: "processor returned no client secret"}
		b.logger.Error().Str("provider", provider).Str("intent_id", handle.ID).Msg("payment_intent_failed")
		return Intent{}, pe
	}
	result = "success"
	b.logger.Info().
		Str("provider", provider).
		Str("intent_id", handle.ID).
		Int64("amount_minor", amount).
		Str("currency", b.cfg.Currency).
		Msg("payment_intent_created")
	return Intent{ClientSecret: handle.ClientSecret}, nil
}

// IdempotencyKey derives a processor idempotency key from the attempt identifier and the cart content.
// The same attempt with the same cart always maps to the same key.
func IdempotencyKey(attemptID string, cart pricing.Cart) string {
	fields := make([]string, 0, 1+5*len(cart))
	fields = append(fields, strings.TrimSpace(attemptID))
	for _, it := range cart {
		fields = append(fields, it.ProductID, it.VariantID, it.Name, strconv.Itoa(it.Quantity), it.Price.String())
	}
	return "checkout-" + common.Digest(fields...)
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
