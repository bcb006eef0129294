// Package protect wraps calls to external dependencies with per-attempt
// timeouts, bounded retries for idempotent operations and a circuit breaker
// per dependency.
package protect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/widgetchat/pkg/logging"
)

// Class groups operations that share a timeout and retry policy.
type Class string

const (
	ClassRead      Class = "read"
	ClassWrite     Class = "write"
	ClassInference Class = "inference"
)

// Operation describes one protected call.
type Operation struct {
	Dependency string
	Name       string
	Class      Class
	// Idempotent operations may be retried; everything else gets one attempt.
	Idempotent bool
}

// Policy bounds a single operation class.
type Policy struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = 2 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 50 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = time.Second
	}
	return p
}

// Outcome labels reported to the Observer.
const (
	OutcomeSuccess     = "success"
	OutcomePermanent   = "permanent"
	OutcomeTimeout     = string(KindTimeout)
	OutcomeTransport   = string(KindTransport)
	OutcomeCircuitOpen = string(KindCircuitOpen)
	OutcomeCanceled    = "canceled"
)

// Observer receives one event per attempt outcome and per breaker transition.
// Implementations must not block.
type Observer interface {
	ObserveCall(dependency, operation, outcome string, elapsed time.Duration)
	ObserveBreakerState(dependency string, state State)
}

// Options configures a Caller.
type Options struct {
	Breaker  BreakerSettings
	Policies map[Class]Policy
	Observer Observer
	Logger   *logging.Logger
}

// Caller executes protected calls. It is safe for concurrent use.
type Caller struct {
	settings BreakerSettings
	policies map[Class]Policy
	observer Observer
	logger   *logging.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewCaller builds a Caller with the given options.
func NewCaller(opts Options) *Caller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	policies := make(map[Class]Policy, len(opts.Policies))
	for class, p := range opts.Policies {
		policies[class] = p.withDefaults()
	}
	return &Caller{
		settings: opts.Breaker.withDefaults(),
		policies: policies,
		observer: opts.Observer,
		logger:   logger,
		sleep:    sleepCtx,
		breakers: make(map[string]*Breaker),
	}
}

// Breaker returns the breaker guarding dependency, creating it on first use.
func (c *Caller) Breaker(dependency string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[dependency]
	if !ok {
		b = NewBreaker(dependency, c.settings, c.onBreakerChange)
		c.breakers[dependency] = b
	}
	return b
}

func (c *Caller) onBreakerChange(name string, from, to State) {
	c.logger.Warn("circuit breaker transition", "dependency", name, "from", from.String(), "to", to.String())
	if c.observer != nil {
		c.observer.ObserveBreakerState(name, to)
	}
}

func (c *Caller) policy(class Class) Policy {
	if p, ok := c.policies[class]; ok {
		return p
	}
	return Policy{}.withDefaults()
}

type result[T any] struct {
	val T
	err error
}

// Call runs fn under the caller's protection for op. Go methods cannot carry
// type parameters, hence the package-level function.
func Call[T any](ctx context.Context, c *Caller, op Operation, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	policy := c.policy(op.Class)
	breaker := c.Breaker(op.Dependency)

	attempts := policy.MaxAttempts
	if !op.Idempotent {
		attempts = 1
	}

	var lastErr *CallError
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, c.contextError(op, attempt-1, err, lastErr)
		}

		slot, err := breaker.admit()
		if err != nil {
			c.observe(op, OutcomeCircuitOpen, 0)
			return zero, &CallError{Kind: KindCircuitOpen, Dependency: op.Dependency, Operation: op.Name, Attempts: attempt, Err: err}
		}

		start := time.Now()
		val, err := runAttempt(ctx, policy.Timeout, fn)
		elapsed := time.Since(start)

		if err == nil {
			slot.record(true)
			c.observe(op, OutcomeSuccess, elapsed)
			return val, nil
		}
		if inner, ok := asPermanent(err); ok {
			slot.record(true)
			c.observe(op, OutcomePermanent, elapsed)
			return zero, inner
		}

		// A caller that went away says nothing about the dependency.
		if errors.Is(ctx.Err(), context.Canceled) {
			slot.release()
			c.observe(op, OutcomeCanceled, elapsed)
			return zero, c.contextError(op, attempt, ctx.Err(), lastErr)
		}

		slot.record(false)
		kind := KindTransport
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		c.observe(op, string(kind), elapsed)
		lastErr = &CallError{Kind: kind, Dependency: op.Dependency, Operation: op.Name, Attempts: attempt, Err: err}

		// The request-level deadline is gone; retrying would only add partial work.
		if ctx.Err() != nil {
			return zero, c.contextError(op, attempt, ctx.Err(), lastErr)
		}
		if attempt == attempts {
			break
		}

		c.logger.Warn("protected call retry",
			"dependency", op.Dependency,
			"operation", op.Name,
			"attempt", attempt,
			"kind", string(kind),
			"error", err,
		)
		if err := c.sleep(ctx, backoff(policy, attempt)); err != nil {
			return zero, c.contextError(op, attempt, err, lastErr)
		}
	}

	c.logger.Warn("protected call failed",
		"dependency", op.Dependency,
		"operation", op.Name,
		"attempts", lastErr.Attempts,
		"kind", string(lastErr.Kind),
		"error", lastErr.Err,
	)
	return zero, lastErr
}

// runAttempt stops waiting at the attempt deadline even if fn ignores ctx.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		val, err := fn(attemptCtx)
		ch <- result[T]{val: val, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && attemptCtx.Err() != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return r.val, errors.Join(context.DeadlineExceeded, r.err)
		}
		return r.val, r.err
	case <-attemptCtx.Done():
		var zero T
		return zero, attemptCtx.Err()
	}
}

func (c *Caller) contextError(op Operation, attempts int, err error, last *CallError) error {
	if last != nil && last.Kind == KindTimeout {
		return last
	}
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &CallError{Kind: kind, Dependency: op.Dependency, Operation: op.Name, Attempts: attempts, Err: err}
}

func (c *Caller) observe(op Operation, outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveCall(op.Dependency, op.Name, outcome, elapsed)
	}
	c.logger.Debug("protected call", "dependency", op.Dependency, "operation", op.Name, "outcome", outcome, "duration_ms", elapsed.Milliseconds())
}

func backoff(p Policy, attempt int) time.Duration {
	delay := p.BaseBackoff * time.Duration(1<<(attempt-1))
	if delay > p.MaxBackoff || delay <= 0 {
		delay = p.MaxBackoff
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
