package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the readiness flag; it is cleared when graceful shutdown starts.
func SetReady(v bool) {
	ready.Store(v)
}

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// RedisProbe pings the shared Redis client.
func RedisProbe(client *redis.Client) Probe {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis not configured")
		}
		return client.Ping(ctx).Err()
	}
}

// BreakerProbe fails while the breaker guarding a dependency is open.
func BreakerProbe(b *resilience.Breaker) Probe {
	return func(context.Context) error {
		if b != nil && b.State() == resilience.Open {
			return resilience.ErrOpenCircuit
		}
		return nil
	}
}

// Handler exposes HTTP handlers for health endpoints.
//
// Required probes decide readiness. Informational probes are reported but never
// take the instance out of rotation.
type Handler struct {
	Required      map[string]Probe
	Informational map[string]Probe
	Timeout       time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := ready.Load()
	if !healthy {
		status["server"] = "shutting down"
	}
	for _, name := range sortedNames(h.Required) {
		if err := h.run(r.Context(), h.Required[name]); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	for _, name := range sortedNames(h.Informational) {
		if err := h.run(r.Context(), h.Informational[name]); err != nil {
			status[name] = err.Error()
			continue
		}
		status[name] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) run(ctx context.Context, probe Probe) error {
	if probe == nil {
		return nil
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return probe(ctx)
}

func sortedNames(probes map[string]Probe) []string {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
