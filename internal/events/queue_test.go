package events

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/widgetchat/internal/protect"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

type hangingSink struct{ calls atomic.Int32 }

func (h *hangingSink) Emit(ctx context.Context, _ Event) error {
	h.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

type syncSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *syncSink) Emit(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *syncSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestQueue(next Sink, size int, observer FailureObserver) *Queue {
	logger := logging.NewWithWriter("error", io.Discard)
	caller := protect.NewCaller(protect.Options{
		Breaker:  protect.BreakerSettings{Window: time.Minute, FailureThreshold: 2, Cooldown: time.Minute},
		Policies: map[protect.Class]protect.Policy{protect.ClassWrite: {Timeout: 20 * time.Millisecond, MaxAttempts: 1}},
		Logger:   logger,
	})
	return NewQueue(next, QueueOptions{Size: size, Caller: caller, DrainTimeout: time.Second, Observer: observer, Logger: logger})
}

func TestQueueEmitDoesNotWaitOnSink(t *testing.T) {
	sink := &hangingSink{}
	q := newTestQueue(sink, 4, nil)

	start := time.Now()
	require.NoError(t, q.Emit(context.Background(), sampleEvent()))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 1, q.Len())
	assert.Zero(t, sink.calls.Load())
}

func TestQueueDropsWhenFull(t *testing.T) {
	counter := failureCounter{}
	q := newTestQueue(&syncSink{}, 1, counter)

	require.NoError(t, q.Emit(context.Background(), sampleEvent()))
	assert.ErrorIs(t, q.Emit(context.Background(), sampleEvent()), ErrQueueFull)
	assert.Equal(t, 1, counter["queue"])
}

func TestQueueHungSinkTripsBreaker(t *testing.T) {
	sink := &hangingSink{}
	counter := failureCounter{}
	q := newTestQueue(sink, 8, counter)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Emit(context.Background(), sampleEvent()))
	}

	start := time.Now()
	q.Flush(context.Background())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int32(2), sink.calls.Load(), "an open circuit stops calls to the sink")
	assert.Equal(t, 5, counter["queue"])
	assert.Zero(t, q.Len())
}

func TestQueueRunDeliversAndDrainsOnShutdown(t *testing.T) {
	sink := &syncSink{}
	q := newTestQueue(sink, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	require.NoError(t, q.Emit(context.Background(), sampleEvent()))
	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	require.NoError(t, q.Emit(context.Background(), sampleEvent()))
	q.Flush(context.Background())
	assert.Equal(t, 2, sink.len())
}
