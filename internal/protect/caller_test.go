package protect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	states   []State
}

func (o *recordingObserver) ObserveCall(_, _, outcome string, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveBreakerState(_ string, state State) {
	o.mu.Lock()
	o.states = append(o.states, state)
	o.mu.Unlock()
}

func newTestCaller(obs Observer) *Caller {
	c := NewCaller(Options{
		Breaker: BreakerSettings{Window: time.Minute, FailureThreshold: 3, Cooldown: time.Minute},
		Policies: map[Class]Policy{
			ClassRead:  {Timeout: 50 * time.Millisecond, MaxAttempts: 3, BaseBackoff: time.Millisecond},
			ClassWrite: {Timeout: 50 * time.Millisecond, MaxAttempts: 3, BaseBackoff: time.Millisecond},
		},
		Observer: obs,
	})
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

var readOp = Operation{Dependency: "config_store", Name: "get", Class: ClassRead, Idempotent: true}

func TestCallSuccess(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestCaller(obs)

	got, err := Call(context.Background(), c, readOp, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []string{OutcomeSuccess}, obs.outcomes)
}

func TestCallRetriesIdempotentTransportFailures(t *testing.T) {
	c := newTestCaller(nil)
	var calls int32

	got, err := Call(context.Background(), c, readOp, func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, errors.New("connection reset")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, int32(3), calls)
}

func TestCallDoesNotRetryNonIdempotent(t *testing.T) {
	c := newTestCaller(nil)
	var calls int32
	op := Operation{Dependency: "state_store", Name: "save", Class: ClassWrite}

	_, err := Call(context.Background(), c, op, func(ctx context.Context) (struct{}, error) {
		atomic.AddInt32(&calls, 1)
		return struct{}{}, errors.New("boom")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, int32(1), calls)

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "state_store", callErr.Dependency)
	assert.Equal(t, 1, callErr.Attempts)
}

func TestCallTimeoutEvenWhenFnIgnoresContext(t *testing.T) {
	c := newTestCaller(nil)
	op := Operation{Dependency: "config_store", Name: "get", Class: ClassRead}

	start := time.Now()
	_, err := Call(context.Background(), c, op, func(ctx context.Context) (string, error) {
		time.Sleep(300 * time.Millisecond)
		return "late", nil
	})
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestCallPermanentErrorsAreNotFailures(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestCaller(obs)
	notFound := errors.New("not found")
	var calls int32

	for i := 0; i < 5; i++ {
		_, err := Call(context.Background(), c, readOp, func(ctx context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", Permanent(notFound)
		})
		assert.Same(t, notFound, err)
	}
	assert.Equal(t, int32(5), calls, "permanent errors are not retried")
	assert.Equal(t, StateClosed, c.Breaker("config_store").State())
}

func TestCallFailsFastWhenCircuitOpen(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestCaller(obs)
	op := Operation{Dependency: "state_store", Name: "load", Class: ClassRead}
	for i := 0; i < 3; i++ {
		_, _ = Call(context.Background(), c, op, func(ctx context.Context) (int, error) {
			return 0, errors.New("unavailable")
		})
	}

	var called bool
	_, err := Call(context.Background(), c, op, func(ctx context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.False(t, called)
	assert.Contains(t, obs.states, StateOpen)
}

func TestCallHonoursRequestDeadline(t *testing.T) {
	c := newTestCaller(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Call(ctx, c, readOp, func(ctx context.Context) (int, error) {
		t.Fatal("fn must not run after the request is cancelled")
		return 0, nil
	})
	require.Error(t, err)
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, KindTransport, callErr.Kind)
}

func TestCallCallerCancellationIsNotADependencyFailure(t *testing.T) {
	obs := &recordingObserver{}
	c := NewCaller(Options{
		Breaker:  BreakerSettings{Window: time.Minute, FailureThreshold: 2, Cooldown: time.Minute},
		Policies: map[Class]Policy{ClassRead: {Timeout: time.Second, MaxAttempts: 1}},
		Observer: obs,
	})
	slow := func(ctx context.Context) (int, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		time.AfterFunc(10*time.Millisecond, cancel)
		_, err := Call(ctx, c, readOp, slow)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		cancel()
	}
	assert.Equal(t, StateClosed, c.Breaker("config_store").State())
	assert.Equal(t, []string{OutcomeCanceled, OutcomeCanceled}, obs.outcomes)

	got, err := Call(context.Background(), c, readOp, func(ctx context.Context) (int, error) {
		return 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestCallAttemptTimeoutStillCountsAsFailure(t *testing.T) {
	c := NewCaller(Options{
		Breaker:  BreakerSettings{Window: time.Minute, FailureThreshold: 2, Cooldown: time.Minute},
		Policies: map[Class]Policy{ClassRead: {Timeout: 10 * time.Millisecond, MaxAttempts: 1}},
	})
	hang := func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	for i := 0; i < 2; i++ {
		_, err := Call(context.Background(), c, readOp, hang)
		var callErr *CallError
		require.True(t, errors.As(err, &callErr))
		assert.Equal(t, KindTimeout, callErr.Kind)
	}
	assert.Equal(t, StateOpen, c.Breaker("config_store").State())
}

func TestBackoffIsCapped(t *testing.T) {
	p := Policy{BaseBackoff: 100 * time.Millisecond, MaxBackoff: 250 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, backoff(p, 1))
	assert.Equal(t, 200*time.Millisecond, backoff(p, 2))
	assert.Equal(t, 250*time.Millisecond, backoff(p, 3))
}
