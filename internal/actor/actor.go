// Package actor provides the mailbox concurrency primitive shared by
// every pipeline actor: serialized message handling per actor, tell/ask
// send semantics, and supervised error escalation.
package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// Handler processes one message at a time. The returned message, if any,
// answers an Ask; it is discarded for a Tell. Errors returned while
// handling a Tell are escalated to the supervisor, errors during an Ask
// go back to the asking caller.
type Handler interface {
	Handle(ctx context.Context, msg pipeline.Message) (pipeline.Message, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg pipeline.Message) (pipeline.Message, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg pipeline.Message) (pipeline.Message, error) {
	return f(ctx, msg)
}

// Teller is the send-only view of an actor, used for supervisor refs and
// worker-to-coordinator links without import cycles.
type Teller interface {
	Tell(msg pipeline.Message)
}

// Config controls actor behavior.
type Config struct {
	// Name labels the actor in logs and escalated errors.
	Name string
	// StopGrace bounds how long Stop waits for the mailbox loop to
	// drain before abandoning it (default 5s).
	StopGrace time.Duration
	// AskTimeout is the default Ask deadline when the caller passes
	// zero (default 10s).
	AskTimeout time.Duration
}

const (
	defaultStopGrace  = 5 * time.Second
	defaultAskTimeout = 10 * time.Second
)

type envelope struct {
	msg   pipeline.Message
	reply chan askResult // nil for Tell
}

type askResult struct {
	msg pipeline.Message
	err error
}

// Actor owns an unbounded FIFO mailbox processed by a single goroutine.
// Different actors run concurrently; one actor never handles two
// messages at once.
type Actor struct {
	cfg        Config
	handler    Handler
	supervisor Teller
	logger     *zap.Logger

	mu      sync.Mutex
	queue   []envelope
	started bool
	stopped bool

	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
	cancel context.CancelFunc

	stopOnce sync.Once
}

// New constructs an Actor. The supervisor may be nil, in which case Tell
// handler errors are only logged.
func New(cfg Config, handler Handler, supervisor Teller, logger *zap.Logger) *Actor {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = defaultAskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actor{
		cfg:        cfg,
		handler:    handler,
		supervisor: supervisor,
		logger:     logger,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
}

// Name returns the actor's label.
func (a *Actor) Name() string { return a.cfg.Name }

// Start spawns the mailbox-processing loop. Starting twice is a no-op.
func (a *Actor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.stopped {
		return
	}
	a.started = true
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.run(ctx)
}

// Stop signals termination, waits up to the configured grace for the
// loop to exit, then abandons it. Idempotent; safe before Start.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		started := a.started
		cancel := a.cancel
		a.mu.Unlock()

		close(a.done)
		if cancel != nil {
			cancel()
		}
		if !started {
			return
		}
		select {
		case <-a.exited:
		case <-time.After(a.cfg.StopGrace):
			a.logger.Warn("actor stop grace elapsed, abandoning mailbox loop",
				zap.String("actor", a.cfg.Name))
		}
	})
}

// Tell enqueues msg and returns immediately. Messages from one sender
// are processed in send order. Tells after Stop are dropped.
func (a *Actor) Tell(msg pipeline.Message) {
	a.enqueue(envelope{msg: msg})
}

// Ask enqueues msg and blocks until the handler replies or the timeout
// elapses. A zero timeout uses the configured default. The handler for a
// timed-out Ask is not killed; its late reply lands in the buffered
// channel and is discarded.
func (a *Actor) Ask(msg pipeline.Message, timeout time.Duration) (pipeline.Message, error) {
	if timeout <= 0 {
		timeout = a.cfg.AskTimeout
	}
	reply := make(chan askResult, 1)
	if !a.enqueue(envelope{msg: msg, reply: reply}) {
		return nil, pipeline.NewError(pipeline.KindTimeout,
			fmt.Sprintf("actor %s is stopped", a.cfg.Name))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-reply:
		return res.msg, res.err
	case <-timer.C:
		return nil, pipeline.NewError(pipeline.KindTimeout,
			fmt.Sprintf("ask %T to %s timed out after %s", msg, a.cfg.Name, timeout))
	case <-a.done:
		return nil, pipeline.NewError(pipeline.KindTimeout,
			fmt.Sprintf("actor %s stopped while waiting for reply", a.cfg.Name))
	}
}

func (a *Actor) enqueue(env envelope) bool {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, env)
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
	return true
}

func (a *Actor) run(ctx context.Context) {
	defer close(a.exited)
	for {
		env, ok := a.next()
		if !ok {
			select {
			case <-a.notify:
				continue
			case <-a.done:
				// Drain whatever was enqueued before Stop.
				for {
					env, ok := a.next()
					if !ok {
						return
					}
					a.dispatch(ctx, env)
				}
			}
		}
		a.dispatch(ctx, env)
	}
}

func (a *Actor) next() (envelope, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return envelope{}, false
	}
	env := a.queue[0]
	a.queue = a.queue[1:]
	return env, true
}

func (a *Actor) dispatch(ctx context.Context, env envelope) {
	reply, err := a.safeHandle(ctx, env.msg)
	if env.reply != nil {
		env.reply <- askResult{msg: reply, err: err}
		return
	}
	if err == nil {
		return
	}
	a.escalate(env.msg, err)
}

// safeHandle runs the handler, converting panics into errors so a
// misbehaving handler never kills the mailbox loop.
func (a *Actor) safeHandle(ctx context.Context, msg pipeline.Message) (reply pipeline.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pipeline.NewError(pipeline.KindFatal,
				fmt.Sprintf("actor %s panicked handling %T: %v", a.cfg.Name, msg, r))
		}
	}()
	return a.handler.Handle(ctx, msg)
}

func (a *Actor) escalate(msg pipeline.Message, err error) {
	perr, ok := err.(*pipeline.Error)
	if !ok {
		perr = pipeline.WrapError(pipeline.KindContent, fmt.Sprintf("unhandled error in %s", a.cfg.Name), err)
	}
	perr = perr.WithOrigin(a.cfg.Name)

	if a.supervisor == nil {
		a.logger.Error("actor error with no supervisor",
			zap.String("actor", a.cfg.Name),
			zap.String("kind", string(perr.Kind)),
			zap.Error(perr))
		return
	}
	a.supervisor.Tell(pipeline.ProcessingError{
		Envelope: pipeline.Envelope{SessionID: msg.Session()},
		Err:      perr,
	})
}
