package resilience_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedBreaker(minRequests int, ratio float64, openFor time.Duration) (*resilience.Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return resilience.NewBreaker(minRequests, ratio, openFor).WithClock(clock.Now), clock
}

func report(b *resilience.Breaker, outcomes ...bool) {
	ctx := context.Background()
	for _, ok := range outcomes {
		b.Allow(ctx)
		b.Report(ctx, ok)
	}
}

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	breaker, clock := newClockedBreaker(2, 0.5, time.Minute)
	ctx := context.Background()

	report(breaker, false)
	require.Equal(t, resilience.Closed, breaker.State(), "one outcome is below the minimum sample")
	report(breaker, false)
	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))

	clock.Advance(59 * time.Second)
	require.False(t, breaker.Allow(ctx))
	clock.Advance(time.Second)
	require.Equal(t, resilience.HalfOpen, breaker.State(), "cool-off elapsed, next call is a trial")
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	breaker, clock := newClockedBreaker(1, 0.5, time.Minute)
	ctx := context.Background()
	report(breaker, false)
	clock.Advance(time.Minute)

	require.True(t, breaker.Allow(ctx), "first caller after cool-off is the trial")
	require.False(t, breaker.Allow(ctx), "concurrent checkout must not reach the processor")
	breaker.Report(ctx, true)

	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx))
	require.True(t, breaker.Allow(ctx))
}

func TestBreakerFailedTrialRestartsCoolOff(t *testing.T) {
	breaker, clock := newClockedBreaker(1, 0.5, time.Minute)
	ctx := context.Background()
	report(breaker, false)
	clock.Advance(time.Minute)

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())

	clock.Advance(30 * time.Second)
	require.False(t, breaker.Allow(ctx))
	clock.Advance(30 * time.Second)
	require.True(t, breaker.Allow(ctx))
}

func TestBreakerJudgesOnlyRecentCalls(t *testing.T) {
	breaker, _ := newClockedBreaker(4, 0.6, time.Minute)

	report(breaker, true, false, true, false, true, false, true, true)
	require.Equal(t, resilience.Closed, breaker.State())
	// A healthy stretch pushes every earlier outcome out of the eight-slot window.
	report(breaker, true, true, true, true, true, true, true, true)

	report(breaker, false, false, false, false)
	require.Equal(t, resilience.Closed, breaker.State(), "4 of the last 8 failed")
	report(breaker, false)
	require.Equal(t, resilience.Open, breaker.State(), "5 of the last 8 failed")
}

func TestBreakerIgnoresReportsWhileOpen(t *testing.T) {
	breaker, clock := newClockedBreaker(1, 0.5, time.Minute)
	ctx := context.Background()
	report(breaker, false)

	breaker.Report(ctx, true)
	require.Equal(t, resilience.Open, breaker.State())
	clock.Advance(time.Minute)
	require.True(t, breaker.Allow(ctx))
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base, resilience.Backoff(base, 0, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))

	for i := 0; i < 50; i++ {
		d := resilience.Backoff(base, 2, 0.2)
		require.GreaterOrEqual(t, d, base*2-base*2/5)
		require.LessOrEqual(t, d, base*2+base*2/5)
	}
}

func TestBackoffSaturatesInsteadOfOverflowing(t *testing.T) {
	for _, attempt := range []int{31, 64, 1000, math.MaxInt} {
		d := resilience.Backoff(time.Second, attempt, 0.5)
		require.Positive(t, int64(d), "attempt %d", attempt)
	}
	require.Equal(t, time.Duration(math.MaxInt64), resilience.Backoff(time.Hour, 40, 0))
}
