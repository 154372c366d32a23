package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedWindowMemory(t *testing.T) {
	l := NewMemory("test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, reset, err := l.Allow(ctx, "ip:1", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, allowed)
		require.Equal(t, 2-i, remaining)
		require.True(t, reset.After(time.Now()))
	}
	allowed, remaining, _, err := l.Allow(ctx, "ip:1", time.Minute, 3)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)

	allowed, _, _, err = l.Allow(ctx, "ip:2", time.Minute, 3)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestMiddlewareRejectsWithCheckoutErrorShape(t *testing.T) {
	handler := Handler{
		Limiter: NewMemory("mw"),
		Config:  Config{Key: ByClientIP("checkout"), Window: time.Minute, Max: 1},
	}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/stripe/create-payment-intent", nil)
	req.RemoteAddr = "198.51.100.7:4100"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "RATE_LIMITED", body["code"])

	other := httptest.NewRequest(http.MethodPost, "/stripe/create-payment-intent", nil)
	other.RemoteAddr = "198.51.100.8:4100"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, other)
	require.Equal(t, http.StatusOK, rr.Code)
}
