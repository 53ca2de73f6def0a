// Package ratelimit implements the token bucket limiter shared by all
// network-issuing actors of one coordinator.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lexharvest/lexharvest/internal/metrics"
	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// Config holds rate limiter configuration. Defaults favor politeness:
// half a request per second with no burst headroom.
type Config struct {
	// RPS is the steady token refill rate per second.
	RPS float64 `mapstructure:"rps"`
	// Burst caps how many tokens can accumulate while idle.
	Burst float64 `mapstructure:"burst"`
}

const (
	defaultRPS   = 0.5
	defaultBurst = 1
)

// Sleeper suspends the caller, honoring context cancellation. Injectable
// so tests can drive the limiter with a fake clock.
type Sleeper func(ctx context.Context, d time.Duration) error

// Limiter is a token bucket. Acquire blocks until one token is
// available; refill and consume happen atomically under the mutex.
type Limiter struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	rate   float64
	burst  float64
	clock  pipeline.Clock
	sleep  Sleeper
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c pipeline.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithSleeper replaces the suspension primitive.
func WithSleeper(s Sleeper) Option {
	return func(l *Limiter) { l.sleep = s }
}

// New creates a Limiter starting with a full bucket.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.RPS <= 0 {
		cfg.RPS = defaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	l := &Limiter{
		tokens: cfg.Burst,
		rate:   cfg.RPS,
		burst:  cfg.Burst,
		clock:  systemClock{},
		sleep:  timerSleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.last = l.clock.Now()
	return l
}

// Acquire consumes one token, suspending the caller until it is
// available. Concurrent callers each reserve their token under the lock,
// so N acquires against rate R and burst B take at least (N-B)/R seconds
// in total.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	now := l.clock.Now()
	l.refill(now)

	if l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}

	wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
	l.tokens--
	l.mu.Unlock()

	metrics.ObserveRateLimitDelay(wait)
	if err := l.sleep(ctx, wait); err != nil {
		l.refund()
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Tokens reports the currently available tokens after refill.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(l.clock.Now())
	return l.tokens
}

func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
	}
	l.last = now
}

func (l *Limiter) refund() {
	l.mu.Lock()
	l.tokens++
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.mu.Unlock()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
