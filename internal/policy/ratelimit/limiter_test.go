package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the fake sleeper runs, making waits
// deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFakeLimiter(rps, burst float64) (*Limiter, *fakeClock, *[]time.Duration) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var waits []time.Duration
	l := New(Config{RPS: rps, Burst: burst},
		WithClock(clock),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			clock.advance(d)
			return nil
		}))
	return l, clock, &waits
}

func TestLimiter_BurstIsImmediate(t *testing.T) {
	t.Parallel()

	l, _, waits := newFakeLimiter(1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	require.Empty(t, *waits)
}

func TestLimiter_WaitMatchesDeficit(t *testing.T) {
	t.Parallel()

	l, _, waits := newFakeLimiter(2, 1) // 2 tokens/sec, burst 1
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx)) // consumes the burst token
	require.NoError(t, l.Acquire(ctx)) // deficit 1 token at 2/s -> 500ms
	require.Len(t, *waits, 1)
	require.Equal(t, 500*time.Millisecond, (*waits)[0])
}

func TestLimiter_TotalTimeLowerBound(t *testing.T) {
	t.Parallel()

	const (
		n     = 10
		rps   = 4.0
		burst = 2.0
	)
	l, clock, _ := newFakeLimiter(rps, burst)
	ctx := context.Background()
	start := clock.Now()

	for i := 0; i < n; i++ {
		require.NoError(t, l.Acquire(ctx))
	}

	elapsed := clock.Now().Sub(start)
	minimum := time.Duration((n - burst) / rps * float64(time.Second))
	require.GreaterOrEqual(t, elapsed, minimum)
}

func TestLimiter_RefillCapsAtBurst(t *testing.T) {
	t.Parallel()

	l, clock, _ := newFakeLimiter(10, 2)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	clock.advance(time.Hour)
	require.InDelta(t, 2.0, l.Tokens(), 1e-9)
}

func TestLimiter_CanceledContextRefundsToken(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := New(Config{RPS: 1, Burst: 1},
		WithClock(clock),
		WithSleeper(func(ctx context.Context, _ time.Duration) error {
			return context.Canceled
		}))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The reserved token must be handed back.
	require.InDelta(t, 0.0, l.Tokens(), 1e-9)
}

func TestLimiter_ConcurrentAcquiresStayAtomic(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1000, Burst: 5})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.LessOrEqual(t, l.Tokens(), 5.0)
}
