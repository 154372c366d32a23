package resilience_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func flakyServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := calls.Add(1)
		if n <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTransport(srv *httptest.Server) *resilience.Transport {
	return &resilience.Transport{
		Base:        srv.Client().Transport,
		Breaker:     resilience.NewBreaker(100, 0.9, time.Second),
		BaseBackoff: time.Millisecond,
		MaxAttempts: 3,
		Timeout:     time.Second,
		Target:      "test",
	}
}

func TestTransportRetriesIdempotentPost(t *testing.T) {
	srv, calls := flakyServer(t, 2)
	client := &http.Client{Transport: newTransport(srv)}

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("amount=100"))
	require.NoError(t, err)
	req.Header.Set("Idempotency-Key", "checkout-1")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "amount=100", string(body))
	require.Equal(t, int32(3), calls.Load())
}

func TestTransportDoesNotRetryPlainPost(t *testing.T) {
	srv, calls := flakyServer(t, 2)
	client := &http.Client{Transport: newTransport(srv)}

	resp, err := client.Post(srv.URL, "application/x-www-form-urlencoded", strings.NewReader("amount=100"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, int32(1), calls.Load())
}

func TestTransportOpenBreakerShortCircuits(t *testing.T) {
	srv, calls := flakyServer(t, 100)
	tr := newTransport(srv)
	tr.Breaker = resilience.NewBreaker(1, 0.5, time.Minute)
	tr.MaxAttempts = 1
	client := &http.Client{Transport: tr}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, resilience.Open, tr.Breaker.State())

	_, err = client.Get(srv.URL)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, int32(1), calls.Load())
}

func TestTransportAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	tr := newTransport(srv)
	tr.Timeout = 20 * time.Millisecond
	tr.MaxAttempts = 1
	client := &http.Client{Transport: tr}

	_, err := client.Get(srv.URL)
	require.Error(t, err)
}

func TestTransportHonoursCallerCancellation(t *testing.T) {
	srv, calls := flakyServer(t, 100)
	tr := newTransport(srv)
	tr.BaseBackoff = time.Second
	client := &http.Client{Transport: tr}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int32(1), calls.Load())
}
