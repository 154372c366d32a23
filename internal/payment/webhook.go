package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/obs"
)

const eventPaymentIntentSucceeded = "payment_intent.succeeded"

// SucceededIntent is a confirmed payment with its cart lines recovered from metadata.
type SucceededIntent struct {
	ID          string     `json:"paymentIntentId"`
	AmountMinor int64      `json:"amount"`
	Currency    string     `json:"currency"`
	Items       []LineItem `json:"items"`
}

// Reconciler hands confirmed payments to the out-of-band order pipeline.
type Reconciler interface {
	Enqueue(ctx context.Context, intent SucceededIntent) error
}

// Webhook verifies and dispatches Stripe event callbacks.
type Webhook struct {
	Secret     string
	Replay     *redis.Client
	ReplayTTL  time.Duration
	Reconciler Reconciler
	Logger     zerolog.Logger
}

// Handle processes POST /stripe/webhook.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	result := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues("stripe", result).Inc()
		}
	}()
	if strings.TrimSpace(h.Secret) == "" || h.Reconciler == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.Secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		result = "invalid_signature"
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	if h.Replay != nil && h.ReplayTTL > 0 {
		ok, err := h.Replay.SetNX(r.Context(), replayKey(event.ID), "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", "replay store unavailable", nil)
			return
		}
		if !ok {
			result = "replay"
			common.JSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}
	if string(event.Type) != eventPaymentIntentSucceeded {
		result = "ignored"
		common.JSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		h.Logger.Error().Err(err).Str("event_id", event.ID).Msg("decode payment intent event")
		h.release(r.Context(), event.ID)
		common.JSONError(w, http.StatusBadRequest, "INVALID_EVENT", "unable to decode payment intent", nil)
		return
	}
	items, err := DecodeMetadata(pi.Metadata)
	if err == nil && len(items) == 0 {
		err = errors.New("metadata: no item entries")
	}
	if err != nil {
		// Not retryable: the intent was not created by this checkout.
		result = "unreconcilable"
		h.Logger.Warn().Err(err).Str("intent_id", pi.ID).Msg("payment intent metadata not reconcilable")
		common.JSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}
	intent := SucceededIntent{
		ID:          pi.ID,
		AmountMinor: pi.Amount,
		Currency:    string(pi.Currency),
		Items:       items,
	}
	if err := h.Reconciler.Enqueue(r.Context(), intent); err != nil {
		h.Logger.Error().Err(err).Str("intent_id", pi.ID).Msg("enqueue reconciliation")
		h.release(r.Context(), event.ID)
		common.JSONError(w, http.StatusServiceUnavailable, "RECONCILE_UNAVAILABLE", "try again later", nil)
		return
	}
	result = "success"
	h.Logger.Info().Str("intent_id", pi.ID).Int("lines", len(items)).Msg("payment_intent_succeeded")
	common.JSON(w, http.StatusOK, map[string]any{"received": true})
}

func replayKey(eventID string) string {
	return "wh:stripe:" + common.Sha256Hex(eventID)
}

// release forgets a claimed event so the processor's retry is processed again.
func (h Webhook) release(ctx context.Context, eventID string) {
	if h.Replay == nil || h.ReplayTTL <= 0 {
		return
	}
	if err := h.Replay.Del(context.WithoutCancel(ctx), replayKey(eventID)).Err(); err != nil {
		h.Logger.Error().Err(err).Str("event_id", eventID).Msg("release webhook replay key")
	}
}
