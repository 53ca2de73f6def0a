// Package retry implements exponential backoff with jitter around a
// fallible operation, classified by pipeline error kinds.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// Config controls backoff shape and what gets retried.
type Config struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	JitterFraction float64       `mapstructure:"jitter_fraction"`
	// Retryable lists the error kinds worth another attempt. When empty,
	// the error's own recoverable flag decides.
	Retryable []pipeline.ErrorKind `mapstructure:"retryable"`
	// NonRetryable wins over Retryable on conflict.
	NonRetryable []pipeline.ErrorKind `mapstructure:"non_retryable"`
}

// OnRetry observes each scheduled retry before the backoff sleep.
type OnRetry func(ctx context.Context, attempt int, delay time.Duration, err error)

// Policy executes operations with retries. Safe for concurrent use only
// when the rand source is; each actor owns its own Policy.
type Policy struct {
	cfg          Config
	retryable    map[pipeline.ErrorKind]struct{}
	nonRetryable map[pipeline.ErrorKind]struct{}
	onRetry      OnRetry
	sleep        func(ctx context.Context, d time.Duration) error
	rng          *rand.Rand
}

// Option customizes a Policy.
type Option func(*Policy)

// WithOnRetry registers a retry-observed callback.
func WithOnRetry(cb OnRetry) Option {
	return func(p *Policy) { p.onRetry = cb }
}

// WithSleeper replaces the backoff sleep (tests).
func WithSleeper(s func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleep = s }
}

// WithRand seeds the jitter source (tests).
func WithRand(rng *rand.Rand) Option {
	return func(p *Policy) { p.rng = rng }
}

// New builds a Policy with sane defaults.
func New(cfg Config, opts ...Option) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	p := &Policy{
		cfg:          cfg,
		retryable:    kindSet(cfg.Retryable),
		nonRetryable: kindSet(cfg.NonRetryable),
		sleep:        timerSleep,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func kindSet(kinds []pipeline.ErrorKind) map[pipeline.ErrorKind]struct{} {
	set := make(map[pipeline.ErrorKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

// Execute attempts op, retrying retryable failures with exponential
// backoff until success or attempts run out. Exhaustion yields a
// KindExhausted error carrying the attempt count and last failure;
// non-retryable errors propagate immediately without consuming a retry.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		if !p.shouldRetry(err) {
			return err
		}
		if attempt == p.cfg.MaxAttempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		if p.onRetry != nil {
			p.onRetry(ctx, attempt+1, delay, err)
		}
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("retry backoff: %w", sleepErr)
		}
	}

	exhausted := pipeline.WrapError(pipeline.KindExhausted,
		fmt.Sprintf("retries exhausted after %d attempts", p.cfg.MaxAttempts), last)
	exhausted.Attempts = p.cfg.MaxAttempts
	return exhausted
}

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

func (p *Policy) shouldRetry(err error) bool {
	kind := pipeline.KindOf(err)
	if _, bad := p.nonRetryable[kind]; bad {
		return false
	}
	if len(p.retryable) == 0 {
		return pipeline.IsRecoverable(err)
	}
	_, ok := p.retryable[kind]
	return ok
}

// Backoff returns the delay before the attempt following attempt
// (zero-based): base * multiplier^attempt capped at max, perturbed by
// +/- jitter_fraction uniform noise.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(attempt))
	if delay > float64(p.cfg.MaxDelay) {
		delay = float64(p.cfg.MaxDelay)
	}
	if p.cfg.JitterFraction > 0 {
		span := p.cfg.JitterFraction * delay
		delay += (p.rng.Float64()*2 - 1) * span
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}
