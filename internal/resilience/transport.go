package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// IdempotencyHeader marks a POST as safe to replay.
const IdempotencyHeader = "Idempotency-Key"

// Transport is an http.RoundTripper adding per-attempt timeouts, retries with
// jittered backoff and a circuit breaker in front of Base.
//
// Only requests that are safe to replay are retried: GET, HEAD, OPTIONS, or any
// request carrying an Idempotency-Key header.
type Transport struct {
	Base        http.RoundTripper
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Target      string
	Logger      *zerolog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	breaker := t.Breaker
	if breaker == nil {
		breaker = NewBreaker(1, 1, time.Second)
	}
	maxAttempts := t.MaxAttempts
	if maxAttempts <= 0 || !replayable(req) {
		maxAttempts = 1
	}
	baseBackoff := t.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}
	ctx := req.Context()

	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		resp, err := t.attempt(ctx, base, req, body)
		retryable := err != nil || resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
		breaker.Report(ctx, err == nil && resp.StatusCode < http.StatusInternalServerError)
		if !retryable || attempt == maxAttempts || ctx.Err() != nil {
			return resp, err
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("resilience: upstream status %d", resp.StatusCode)
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
		}
		t.logRetry(ctx, req, attempt, lastErr)
		if OutboundRetries != nil {
			OutboundRetries.WithLabelValues(t.targetLabel()).Inc()
		}
		timer := time.NewTimer(Backoff(baseBackoff, attempt, t.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (t *Transport) attempt(ctx context.Context, base http.RoundTripper, req *http.Request, body []byte) (*http.Response, error) {
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if t.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, t.Timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	clone := req.Clone(callCtx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		clone.ContentLength = int64(len(body))
	}
	resp, err := base.RoundTrip(clone)
	if err != nil {
		cancel()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("resilience: attempt timed out after %s: %w", t.Timeout, err)
		}
		return nil, err
	}
	// The body outlives RoundTrip, so the attempt context is released on Close.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (t *Transport) targetLabel() string {
	if t.Target == "" {
		return "default"
	}
	return t.Target
}

func (t *Transport) logRetry(ctx context.Context, req *http.Request, attempt int, err error) {
	if t.Logger == nil {
		return
	}
	evt := t.Logger.Warn().
		Str("target", t.targetLabel()).
		Str("method", req.Method).
		Str("host", req.URL.Host).
		Int("attempt", attempt).
		Err(err)
	if traceID := traceIDFromContext(ctx); traceID != "" {
		evt = evt.Str("trace_id", traceID)
	}
	evt.Msg("outbound_retry")
}

func replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return req.Header.Get(IdempotencyHeader) != ""
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		src = fresh
	}
	defer func() { _ = src.Close() }()
	return io.ReadAll(src)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
