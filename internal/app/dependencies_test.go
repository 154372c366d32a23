package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/app"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/ratelimit"
	"github.com/noah-isme/toko-checkout/internal/reconcile"
)

func TestNewLimiterBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := app.NewRedis(context.Background(), "redis://"+mr.Addr(), false, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	lim, err := app.NewLimiter("sliding", rdb)
	require.NoError(t, err)
	require.IsType(t, ratelimit.SlidingWindow{}, lim)

	lim, err = app.NewLimiter("fixed", rdb)
	require.NoError(t, err)
	require.IsType(t, ratelimit.FixedWindow{}, lim)
	allowed, remaining, _, err := lim.Allow(context.Background(), "checkout:10.0.0.1", time.Minute, 3)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 2, remaining)

	lim, err = app.NewLimiter("sliding", nil)
	require.NoError(t, err)
	require.IsType(t, ratelimit.FixedWindow{}, lim)

	_, err = app.NewLimiter("leaky", rdb)
	require.Error(t, err)
}

func TestNewRedisUnreachable(t *testing.T) {
	_, err := app.NewRedis(context.Background(), "redis://127.0.0.1:1", false, zerolog.Nop())
	require.Error(t, err)

	_, err = app.NewRedis(context.Background(), "::not-a-url", false, zerolog.Nop())
	require.Error(t, err)
}

func TestRetryDelayCapped(t *testing.T) {
	require.Equal(t, time.Second, app.RetryDelay(time.Second, 0, 0))
	require.Equal(t, 4*time.Second, app.RetryDelay(time.Second, 2, 0))
	require.Equal(t, 10*time.Minute, app.RetryDelay(time.Second, 12, 0))
	require.Equal(t, 10*time.Minute, app.RetryDelay(time.Second, 40, 0))
}

func TestNewPublisherFallsBackToLog(t *testing.T) {
	pub, closeFn, err := app.NewPublisher(&config.Config{}, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, reconcile.LogPublisher{}, pub)
	require.NoError(t, closeFn())
}

func TestNewTaskServerRequiresRedis(t *testing.T) {
	_, err := app.NewTaskServer(&config.Config{}, zerolog.Nop())
	require.Error(t, err)
}
