package ratelimit

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestLimiterRefillIsCappedAtCapacity(t *testing.T) {
	mock := clock.NewMock()
	limiter := New(10, 5, WithClock(mock))

	require.True(t, limiter.TryAcquire(10))
	require.InDelta(t, 0, limiter.Available(), 1e-9)

	mock.Add(time.Second)
	require.InDelta(t, 5, limiter.Available(), 1e-9)

	mock.Add(3 * time.Second)
	require.InDelta(t, 10, limiter.Available(), 1e-9)
}

func TestLimiterTryAcquire(t *testing.T) {
	mock := clock.NewMock()
	limiter := New(2, 1, WithClock(mock))

	require.True(t, limiter.TryAcquire(1))
	require.True(t, limiter.TryAcquire(1))
	require.False(t, limiter.TryAcquire(1))
	require.False(t, limiter.TryAcquire(3))

	mock.Add(500 * time.Millisecond)
	require.False(t, limiter.TryAcquire(1))

	mock.Add(500 * time.Millisecond)
	require.True(t, limiter.TryAcquire(1))
	require.True(t, limiter.TryAcquire(0))
}

func TestLimiterTokensStayWithinBounds(t *testing.T) {
	mock := clock.NewMock()
	limiter := New(8, 3, WithClock(mock))
	rng := rand.New(rand.NewSource(42))

	previous := limiter.Available()
	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 {
			limiter.TryAcquire(rng.Intn(4) + 1)
			previous = limiter.Available()
		} else {
			mock.Add(time.Duration(rng.Intn(400)) * time.Millisecond)
			current := limiter.Available()
			require.GreaterOrEqual(t, current, previous, "available must not shrink without an acquisition")
			previous = current
		}

		available := limiter.Available()
		require.GreaterOrEqual(t, available, 0.0)
		require.LessOrEqual(t, available, limiter.Capacity())
	}
}

func TestLimiterTimeToFull(t *testing.T) {
	mock := clock.NewMock()
	limiter := New(10, 5, WithClock(mock))

	require.True(t, limiter.Full())
	require.Zero(t, limiter.TimeToFull())

	require.True(t, limiter.TryAcquire(10))
	require.False(t, limiter.Full())
	require.Equal(t, 2*time.Second, limiter.TimeToFull())

	mock.Add(2 * time.Second)
	require.True(t, limiter.Full())
}

func TestLimiterSafetyMargin(t *testing.T) {
	limiter := New(10, 10, WithSafetyMargin(0.5))
	require.InDelta(t, 5, limiter.RefillRate(), 1e-9)

	ignored := New(10, 10, WithSafetyMargin(1.5))
	require.InDelta(t, 10, ignored.RefillRate(), 1e-9)
}

func TestLimiterWait(t *testing.T) {
	t.Run("BlocksUntilRefill", func(t *testing.T) {
		limiter := New(1, 50)
		require.True(t, limiter.TryAcquire(1))

		start := time.Now()
		require.NoError(t, limiter.Wait(context.Background(), 1))
		require.Less(t, time.Since(start), time.Second)
	})

	t.Run("ExceedsCapacity", func(t *testing.T) {
		limiter := New(2, 1)
		err := limiter.Wait(context.Background(), 3)
		require.ErrorIs(t, err, ErrExceedsCapacity)
	})

	t.Run("ContextDeadline", func(t *testing.T) {
		limiter := New(1, 0.01)
		require.True(t, limiter.TryAcquire(1))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := limiter.Wait(ctx, 1)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
