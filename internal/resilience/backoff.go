package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// maxBackoffShift keeps base<<shift inside time.Duration for any sane base.
const maxBackoffShift = 30

// Backoff returns base*2^(attempt-1), spread by ±jitterPct (0.2 == 20%).
// Large attempt numbers saturate instead of overflowing into negative delays.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := base << uint(shift)
	if d>>uint(shift) != base {
		return math.MaxInt64
	}
	if jitterPct <= 0 {
		return d
	}
	if jitterPct > 1 {
		jitterPct = 1
	}
	jittered := float64(d) * (1 + (rand.Float64()*2-1)*jitterPct)
	if jittered >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(jittered)
}
