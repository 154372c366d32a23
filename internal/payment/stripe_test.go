package payment_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/payment"
)

func newStripeServer(t *testing.T, handler http.HandlerFunc) *payment.StripeProcessor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	proc, err := payment.NewStripeProcessor(payment.StripeConfig{
		SecretKey:  "sk_test_123",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return proc
}

func TestStripeProcessorCreatesIntent(t *testing.T) {
	var form map[string]string
	var method, path, idemKey, auth string
	proc := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_ = r.ParseForm()
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		idemKey = r.Header.Get("Idempotency-Key")
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","amount":25000,"currency":"mxn","client_secret":"pi_123_secret_abc"}`))
	})

	handle, err := proc.CreatePaymentIntent(context.Background(), payment.IntentRequest{
		AmountMinor:        25000,
		Currency:           "mxn",
		PaymentMethodTypes: []string{"card"},
		Metadata:           map[string]string{"item_0_name": "Tenis", "item_0_quantity": "1"},
		IdempotencyKey:     "checkout-abc",
	})
	require.NoError(t, err)
	require.Equal(t, "pi_123", handle.ID)
	require.Equal(t, "pi_123_secret_abc", handle.ClientSecret)

	require.Equal(t, http.MethodPost, method)
	require.Equal(t, "/v1/payment_intents", path)
	require.Equal(t, "25000", form["amount"])
	require.Equal(t, "mxn", form["currency"])
	require.Equal(t, "card", form["payment_method_types[0]"])
	require.Equal(t, "Tenis", form["metadata[item_0_name]"])
	require.Equal(t, "1", form["metadata[item_0_quantity]"])
	require.Equal(t, "checkout-abc", idemKey)
	require.Equal(t, "Bearer sk_test_123", auth)
}

func TestStripeProcessorClassifiesAPIError(t *testing.T) {
	proc := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Request-Id", "req_42")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"amount_too_small","message":"Amount must be at least $10.00 mxn"}}`))
	})

	_, err := proc.CreatePaymentIntent(context.Background(), payment.IntentRequest{
		AmountMinor: 100, Currency: "mxn", PaymentMethodTypes: []string{"card"},
	})
	require.ErrorIs(t, err, payment.ErrProcessor)
	var pe *payment.ProcessorError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "amount_too_small", pe.Code)
	require.Equal(t, "invalid_request_error", pe.Type)
	require.Equal(t, http.StatusBadRequest, pe.HTTPStatus)
	require.Equal(t, "req_42", pe.RequestID)
}

func TestStripeProcessorNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	proc, err := payment.NewStripeProcessor(payment.StripeConfig{SecretKey: "sk_test_123", BaseURL: url, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = proc.CreatePaymentIntent(context.Background(), payment.IntentRequest{
		AmountMinor: 100, Currency: "mxn", PaymentMethodTypes: []string{"card"},
	})
	require.ErrorIs(t, err, payment.ErrProcessor)
	var pe *payment.ProcessorError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "network_error", pe.Code)
}

func TestNewStripeProcessorRequiresKey(t *testing.T) {
	_, err := payment.NewStripeProcessor(payment.StripeConfig{SecretKey: "  "})
	require.Error(t, err)
}
