package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// ErrExceedsCapacity is returned by Wait when the request can never be
// satisfied because it asks for more tokens than the bucket holds.
var ErrExceedsCapacity = errors.New("token request exceeds bucket capacity")

const (
	minWait = time.Millisecond
	maxWait = time.Second
)

// Limiter is a token bucket gating outbound calls to one endpoint.
//
// The bucket starts full. Tokens refill continuously at the configured rate
// and are capped at capacity, so 0 <= Available() <= Capacity() always holds.
type Limiter struct {
	bucket   *rate.Limiter
	capacity float64
	refill   float64
	clock    clock.Clock
}

type options struct {
	clock  clock.Clock
	margin float64
}

// Option configures a Limiter.
type Option func(*options)

// WithClock injects the time source. Tests use clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithSafetyMargin scales the refill rate by a ratio in (0, 1].
func WithSafetyMargin(margin float64) Option {
	return func(o *options) {
		if margin > 0 && margin <= 1 {
			o.margin = margin
		}
	}
}

// New creates a token bucket holding up to capacity tokens, refilled at
// refillPerSecond tokens per second.
func New(capacity int, refillPerSecond float64, opts ...Option) *Limiter {
	o := options{clock: clock.New(), margin: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if capacity < 0 {
		capacity = 0
	}
	if refillPerSecond < 0 {
		refillPerSecond = 0
	}
	refill := refillPerSecond * o.margin

	return &Limiter{
		bucket:   rate.NewLimiter(rate.Limit(refill), capacity),
		capacity: float64(capacity),
		refill:   refill,
		clock:    o.clock,
	}
}

// TryAcquire takes n tokens if they are available right now.
func (l *Limiter) TryAcquire(n int) bool {
	if n <= 0 {
		return true
	}
	return l.bucket.AllowN(l.clock.Now(), n)
}

// Wait blocks until n tokens have been taken or ctx is done. It sleeps until
// the refill instant that covers the current deficit instead of polling.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if float64(n) > l.capacity {
		return fmt.Errorf("%w: want %d, capacity %.0f", ErrExceedsCapacity, n, l.capacity)
	}

	for {
		if l.TryAcquire(n) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		timer := l.clock.Timer(l.deficitDelay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available returns the current token count after refill.
func (l *Limiter) Available() float64 {
	tokens := l.bucket.TokensAt(l.clock.Now())
	return math.Max(0, math.Min(tokens, l.capacity))
}

// Capacity returns the bucket size.
func (l *Limiter) Capacity() float64 {
	return l.capacity
}

// RefillRate returns the effective refill rate in tokens per second.
func (l *Limiter) RefillRate() float64 {
	return l.refill
}

// Full reports whether the bucket has regained its whole capacity.
func (l *Limiter) Full() bool {
	return l.Available() >= l.capacity
}

// TimeToFull returns how long the bucket needs to refill completely.
func (l *Limiter) TimeToFull() time.Duration {
	missing := l.capacity - l.Available()
	if missing <= 0 {
		return 0
	}
	if l.refill <= 0 {
		return maxWait
	}
	return time.Duration(missing / l.refill * float64(time.Second))
}

func (l *Limiter) deficitDelay(n int) time.Duration {
	if l.refill <= 0 {
		return maxWait
	}
	missing := float64(n) - l.Available()
	d := time.Duration(missing / l.refill * float64(time.Second))
	switch {
	case d < minWait:
		return minWait
	case d > maxWait:
		return maxWait
	}
	return d
}
