package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultErrorWindow is how long a recorded error counts against an endpoint.
	DefaultErrorWindow = time.Minute

	// DefaultErrorThreshold is the error count at which an endpoint is unhealthy.
	DefaultErrorThreshold = 5
)

// BackoffPolicy maps the recent error count to a delay applied before each
// acquire. It is only consulted when the count is above zero.
type BackoffPolicy func(errorCount int) time.Duration

// NoBackoff never delays.
func NoBackoff(int) time.Duration { return 0 }

// ExponentialBackoff doubles the delay with every recent error, starting at
// base and capped at max.
func ExponentialBackoff(base, max time.Duration) BackoffPolicy {
	return func(errorCount int) time.Duration {
		if errorCount <= 0 || base <= 0 {
			return 0
		}
		d := float64(base) * math.Pow(2, float64(errorCount-1))
		if max > 0 && d > float64(max) {
			return max
		}
		return clampDuration(d)
	}
}

// MultiplierBackoff sleeps multiplier^errorCount seconds. With a multiplier
// below 1 the delay shrinks as errors accumulate.
func MultiplierBackoff(multiplier float64) BackoffPolicy {
	return func(errorCount int) time.Duration {
		if errorCount <= 0 || multiplier <= 0 {
			return 0
		}
		return clampDuration(math.Pow(multiplier, float64(errorCount)) * float64(time.Second))
	}
}

// clampDuration converts nanoseconds to a Duration, saturating instead of
// wrapping negative on overflow.
func clampDuration(ns float64) time.Duration {
	if math.IsNaN(ns) || ns <= 0 {
		return 0
	}
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// AdaptiveConfig tunes the error window of an Adaptive limiter.
type AdaptiveConfig struct {
	Window    time.Duration
	Threshold int
	Backoff   BackoffPolicy
}

// Adaptive wraps a Limiter with a sliding window of recent errors and slows
// acquisition down while the endpoint keeps failing.
type Adaptive struct {
	limiter   *Limiter
	clock     clock.Clock
	backoff   BackoffPolicy
	window    time.Duration
	threshold int

	mu     sync.Mutex
	errors []time.Time
}

// NewAdaptive wraps limiter. Zero config fields fall back to the defaults.
func NewAdaptive(limiter *Limiter, cfg AdaptiveConfig) *Adaptive {
	if cfg.Window <= 0 {
		cfg.Window = DefaultErrorWindow
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultErrorThreshold
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff(100*time.Millisecond, 5*time.Second)
	}

	return &Adaptive{
		limiter:   limiter,
		clock:     limiter.clock,
		backoff:   cfg.Backoff,
		window:    cfg.Window,
		threshold: cfg.Threshold,
	}
}

// Limiter returns the wrapped token bucket.
func (a *Adaptive) Limiter() *Limiter {
	return a.limiter
}

// RecordError notes a failure at the current time.
func (a *Adaptive) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	a.errors = append(a.errors, now)
	a.prune(now)
}

// RecentErrorCount returns the number of errors inside the window.
func (a *Adaptive) RecentErrorCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.prune(a.clock.Now())
	return len(a.errors)
}

// IsHealthy reports whether recent errors are below the threshold.
func (a *Adaptive) IsHealthy() bool {
	return a.RecentErrorCount() < a.threshold
}

// Threshold returns the unhealthy error count.
func (a *Adaptive) Threshold() int {
	return a.threshold
}

// Backoff returns the delay the policy currently imposes.
func (a *Adaptive) Backoff() time.Duration {
	count := a.RecentErrorCount()
	if count == 0 {
		return 0
	}
	return a.backoff(count)
}

// TryAcquire takes n tokens without applying backoff.
func (a *Adaptive) TryAcquire(n int) bool {
	return a.limiter.TryAcquire(n)
}

// Wait sleeps for the current backoff, then blocks on the token bucket.
func (a *Adaptive) Wait(ctx context.Context, n int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if delay := a.Backoff(); delay > 0 {
		timer := a.clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return a.limiter.Wait(ctx, n)
}

// prune drops entries older than the window. Caller holds a.mu.
func (a *Adaptive) prune(now time.Time) {
	cutoff := now.Add(-a.window)
	keep := 0
	for _, at := range a.errors {
		if at.After(cutoff) {
			a.errors[keep] = at
			keep++
		}
	}
	a.errors = a.errors[:keep]
}
