package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/pipeline"
)

type probeMsg struct {
	pipeline.Envelope
	N int
}

type recorder struct {
	mu   sync.Mutex
	msgs []pipeline.Message
}

func (r *recorder) Tell(msg pipeline.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) all() []pipeline.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Message(nil), r.msgs...)
}

func TestActor_TellPreservesSenderOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []int
	a := New(Config{Name: "order"}, HandlerFunc(func(_ context.Context, msg pipeline.Message) (pipeline.Message, error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.(probeMsg).N)
		return nil, nil
	}), nil, zap.NewNop())
	a.Start()
	defer a.Stop()

	for i := 0; i < 100; i++ {
		a.Tell(probeMsg{N: i})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 100
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, n := range got {
		require.Equal(t, i, n)
	}
}

func TestActor_AskReturnsReply(t *testing.T) {
	t.Parallel()

	a := New(Config{Name: "echo"}, HandlerFunc(func(_ context.Context, msg pipeline.Message) (pipeline.Message, error) {
		return probeMsg{N: msg.(probeMsg).N * 2}, nil
	}), nil, zap.NewNop())
	a.Start()
	defer a.Stop()

	reply, err := a.Ask(probeMsg{N: 21}, time.Second)
	require.NoError(t, err)
	require.Equal(t, 42, reply.(probeMsg).N)
}

func TestActor_AskTimeoutDiscardsLateReply(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	a := New(Config{Name: "slow"}, HandlerFunc(func(_ context.Context, _ pipeline.Message) (pipeline.Message, error) {
		<-release
		return probeMsg{N: 1}, nil
	}), nil, zap.NewNop())
	a.Start()
	defer a.Stop()

	_, err := a.Ask(probeMsg{N: 1}, 20*time.Millisecond)
	require.Error(t, err)
	require.Equal(t, pipeline.KindTimeout, pipeline.KindOf(err))

	// Unblock the handler; its late result must not break anything and
	// the next Ask must still work.
	close(release)
	reply, err := a.Ask(probeMsg{N: 2}, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, reply.(probeMsg).N)
}

func TestActor_AskHandlerErrorReachesCaller(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a := New(Config{Name: "failing"}, HandlerFunc(func(_ context.Context, _ pipeline.Message) (pipeline.Message, error) {
		return nil, pipeline.WrapError(pipeline.KindContent, "handler failed", boom)
	}), nil, zap.NewNop())
	a.Start()
	defer a.Stop()

	_, err := a.Ask(probeMsg{N: 1}, time.Second)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
}

func TestActor_TellErrorEscalatesToSupervisor(t *testing.T) {
	t.Parallel()

	sup := &recorder{}
	session := uuid.New()
	a := New(Config{Name: "worker"}, HandlerFunc(func(_ context.Context, _ pipeline.Message) (pipeline.Message, error) {
		return nil, pipeline.NewError(pipeline.KindTransient, "fetch blew up")
	}), sup, zap.NewNop())
	a.Start()
	defer a.Stop()

	a.Tell(probeMsg{Envelope: pipeline.Envelope{SessionID: session}, N: 1})

	require.Eventually(t, func() bool {
		return len(sup.all()) == 1
	}, time.Second, 5*time.Millisecond)

	evt, ok := sup.all()[0].(pipeline.ProcessingError)
	require.True(t, ok)
	require.Equal(t, session, evt.Session())
	require.Equal(t, pipeline.KindTransient, evt.Err.Kind)
	require.Equal(t, "worker", evt.Err.Origin)
}

func TestActor_PanicBecomesFatalEscalation(t *testing.T) {
	t.Parallel()

	sup := &recorder{}
	a := New(Config{Name: "panicky"}, HandlerFunc(func(_ context.Context, _ pipeline.Message) (pipeline.Message, error) {
		panic("oh no")
	}), sup, zap.NewNop())
	a.Start()
	defer a.Stop()

	a.Tell(probeMsg{N: 1})

	require.Eventually(t, func() bool {
		return len(sup.all()) == 1
	}, time.Second, 5*time.Millisecond)
	evt := sup.all()[0].(pipeline.ProcessingError)
	require.Equal(t, pipeline.KindFatal, evt.Err.Kind)

	// The mailbox loop must survive the panic.
	reply, err := a.Ask(probeMsg{N: 2}, time.Second)
	require.Error(t, err) // handler panics again
	require.Nil(t, reply)
}

func TestActor_StopIsIdempotentAndDrains(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	handled := 0
	a := New(Config{Name: "drainer", StopGrace: time.Second}, HandlerFunc(func(_ context.Context, _ pipeline.Message) (pipeline.Message, error) {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil, nil
	}), nil, zap.NewNop())
	a.Start()

	for i := 0; i < 10; i++ {
		a.Tell(probeMsg{N: i})
	}
	a.Stop()
	a.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 10, handled)
}

func TestActor_TellAfterStopIsDropped(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	handled := 0
	a := New(Config{Name: "stopped"}, HandlerFunc(func(_ context.Context, _ pipeline.Message) (pipeline.Message, error) {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil, nil
	}), nil, zap.NewNop())
	a.Start()
	a.Stop()

	a.Tell(probeMsg{N: 1})
	_, err := a.Ask(probeMsg{N: 2}, 50*time.Millisecond)
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, handled)
}
