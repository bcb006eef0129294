package events

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/widgetchat/internal/protect"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

// Dependency is the ProtectedCaller dependency name for event delivery.
const Dependency = "event_sink"

// ErrQueueFull is returned by Queue.Emit when the buffer has no room.
var ErrQueueFull = errors.New("events: queue full")

// QueueOptions configures a Queue.
type QueueOptions struct {
	Size   int
	Caller *protect.Caller
	// DrainTimeout bounds delivery of what is still queued at shutdown.
	DrainTimeout time.Duration
	Observer     FailureObserver
	Logger       *logging.Logger
}

// Queue sits between request handling and the sinks. Emit never waits on a
// sink; Run delivers queued events through the ProtectedCaller.
type Queue struct {
	next         Sink
	caller       *protect.Caller
	ch           chan Event
	drainTimeout time.Duration
	observer     FailureObserver
	logger       *logging.Logger
}

func NewQueue(next Sink, opts QueueOptions) *Queue {
	if opts.Caller == nil {
		panic("events: caller cannot be nil")
	}
	if opts.Size <= 0 {
		opts.Size = 1024
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Queue{
		next:         next,
		caller:       opts.Caller,
		ch:           make(chan Event, opts.Size),
		drainTimeout: opts.DrainTimeout,
		observer:     opts.Observer,
		logger:       opts.Logger,
	}
}

// Emit enqueues e, dropping it when the buffer is full.
func (q *Queue) Emit(_ context.Context, e Event) error {
	select {
	case q.ch <- e:
		return nil
	default:
		q.drop(e, ErrQueueFull)
		return ErrQueueFull
	}
}

// Len reports how many events are waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Run delivers events until ctx is done, then drains what is left within
// the drain timeout.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case e := <-q.ch:
			q.deliver(context.WithoutCancel(ctx), e)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.drainTimeout)
			q.Flush(drainCtx)
			cancel()
			return
		}
	}
}

// Flush delivers queued events until the queue is empty or ctx is done.
// Events still queued when ctx ends are dropped.
func (q *Queue) Flush(ctx context.Context) {
	for {
		select {
		case e := <-q.ch:
			if ctx.Err() != nil {
				q.drop(e, ctx.Err())
				continue
			}
			q.deliver(ctx, e)
		default:
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, e Event) {
	_, err := protect.Call(ctx, q.caller, protect.Operation{
		Dependency: Dependency,
		Name:       "emit",
		Class:      protect.ClassWrite,
	}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, q.next.Emit(ctx, e)
	})
	if err != nil {
		q.drop(e, err)
	}
}

func (q *Queue) drop(e Event, err error) {
	q.logger.Warn("event dropped", "event_type", e.Type, "event_id", e.ID, "error", err)
	if q.observer != nil {
		q.observer.ObserveSinkFailure("queue")
	}
}
