package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/payment"
)

// Handler turns reconciliation tasks into OrderPaid messages.
type Handler struct {
	Publisher Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	result := "error"
	defer func() {
		if obs.ReconcileTotal != nil {
			obs.ReconcileTotal.WithLabelValues(result).Inc()
		}
	}()
	var intent payment.SucceededIntent
	if err := json.Unmarshal(task.Payload(), &intent); err != nil {
		result = "malformed"
		h.Logger.Error().Err(err).Msg("decode reconcile task")
		return fmt.Errorf("reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if intent.ID == "" || len(intent.Items) == 0 {
		result = "malformed"
		h.Logger.Error().Str("intent_id", intent.ID).Msg("reconcile task without intent or items")
		return fmt.Errorf("reconcile: incomplete payload: %w", asynq.SkipRetry)
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	msg := OrderPaid{
		MessageID:       messageID(intent.ID),
		PaymentIntentID: intent.ID,
		AmountMinor:     intent.AmountMinor,
		Currency:        intent.Currency,
		Items:           intent.Items,
		PaidAt:          now().UTC(),
	}
	if err := h.Publisher.Publish(ctx, msg); err != nil {
		h.Logger.Warn().Err(err).Str("intent_id", intent.ID).Msg("publish order paid")
		return fmt.Errorf("reconcile: publish %s: %w", intent.ID, err)
	}
	result = "success"
	h.Logger.Info().Str("intent_id", intent.ID).Str("message_id", msg.MessageID).Msg("order_reconciled")
	return nil
}
