// Package breaker implements a three-state circuit breaker guarding one
// external dependency.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// State is the circuit position.
type State string

// Circuit states.
const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config controls the breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit (default 5).
	FailureThreshold int `mapstructure:"failure_threshold"`
	// SuccessThreshold is the consecutive half-open success count that
	// closes it again (default 2). It also bounds how many half-open
	// trial calls may be in flight at once.
	SuccessThreshold int `mapstructure:"success_threshold"`
	// OpenTimeout is how long the circuit stays open before admitting a
	// trial call (default 30s).
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	// Excluded error kinds never count as failures. Expected outcomes
	// like not-found must not trip the breaker.
	Excluded []pipeline.ErrorKind `mapstructure:"excluded"`
}

// Breaker wraps an unreliable dependency with fast-fail behavior. Safe
// for concurrent use.
type Breaker struct {
	name     string
	cfg      Config
	excluded map[pipeline.ErrorKind]struct{}
	clock    pipeline.Clock

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	trials    int // in-flight half-open calls
	openedAt  time.Time
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock replaces the wall clock.
func WithClock(c pipeline.Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// New builds a Breaker named after the dependency it guards.
func New(name string, cfg Config, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	excluded := make(map[pipeline.ErrorKind]struct{}, len(cfg.Excluded))
	for _, k := range cfg.Excluded {
		excluded[k] = struct{}{}
	}
	b := &Breaker{
		name:     name,
		cfg:      cfg,
		excluded: excluded,
		clock:    systemClock{},
		state:    Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op if the circuit admits the call. While open, calls are
// rejected with a KindCircuitOpen error without invoking op until the
// open timeout elapses; the first call after that runs as a half-open
// trial.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		if b.trials >= b.cfg.SuccessThreshold {
			return pipeline.NewError(pipeline.KindCircuitOpen,
				fmt.Sprintf("circuit %s is half-open with all trial slots taken", b.name))
		}
		b.trials++
		return nil
	case Open:
		if b.clock.Now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
			b.state = HalfOpen
			b.successes = 0
			b.trials = 1
			return nil
		}
		return pipeline.NewError(pipeline.KindCircuitOpen,
			fmt.Sprintf("circuit %s is open", b.name))
	default:
		return pipeline.NewError(pipeline.KindCircuitOpen,
			fmt.Sprintf("circuit %s in unknown state %q", b.name, b.state))
	}
}

func (b *Breaker) record(err error) {
	skip := false
	if err != nil {
		_, skip = b.excluded[pipeline.KindOf(err)]
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen && b.trials > 0 {
		b.trials--
	}
	if skip {
		return
	}
	if err == nil {
		b.onSuccess()
		return
	}
	b.onFailure()
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
			b.trials = 0
		}
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case HalfOpen:
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = Open
	b.openedAt = b.clock.Now()
	b.failures = 0
	b.successes = 0
	b.trials = 0
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
