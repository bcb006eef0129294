package protect

import (
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures trip and recovery behaviour.
type BreakerSettings struct {
	// Window is the sliding window over which failures are counted while closed.
	Window time.Duration
	// FailureThreshold is the number of failures inside Window that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.Window <= 0 {
		s.Window = 30 * time.Second
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 15 * time.Second
	}
	return s
}

// Breaker is a three-state circuit breaker for a single dependency.
type Breaker struct {
	name     string
	settings BreakerSettings
	now      func() time.Time
	onChange func(name string, from, to State)

	mu         sync.Mutex
	state      State
	failures   []time.Time
	openedAt   time.Time
	generation uint64
}

// NewBreaker builds a closed breaker.
func NewBreaker(name string, settings BreakerSettings, onChange func(name string, from, to State)) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings.withDefaults(),
		now:      time.Now,
		onChange: onChange,
	}
}

// State returns the current state, promoting open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Allow asks permission for one call. On success the returned function must be
// invoked exactly once with the call outcome.
func (b *Breaker) Allow() (func(success bool), error) {
	p, err := b.admit()
	if err != nil {
		return nil, err
	}
	return p.record, nil
}

// permit is one admitted call. It settles once, either with an outcome or
// released without one.
type permit struct {
	b    *Breaker
	gen  uint64
	once sync.Once
}

func (p *permit) record(success bool) {
	p.once.Do(func() { p.b.record(p.gen, success) })
}

func (p *permit) release() {
	p.once.Do(func() { p.b.release(p.gen) })
}

func (b *Breaker) admit() (*permit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.settings.Cooldown {
			return nil, ErrCircuitOpen
		}
		// This caller becomes the single probe.
		b.transition(StateHalfOpen)
	case StateHalfOpen:
		return nil, ErrCircuitOpen
	}
	return &permit{b: b, gen: b.generation}, nil
}

// release settles a call that ended without telling us anything about the
// dependency. An abandoned half-open call hands the slot back: the circuit returns to
// open with its cooldown already elapsed, so the next caller is admitted.
func (b *Breaker) release(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation || b.state != StateHalfOpen {
		return
	}
	b.transition(StateOpen)
}

func (b *Breaker) record(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Outcomes of calls admitted under an earlier state are stale.
	if gen != b.generation {
		return
	}

	now := b.now()
	switch b.state {
	case StateHalfOpen:
		if success {
			b.transition(StateClosed)
		} else {
			b.openedAt = now
			b.transition(StateOpen)
		}
	case StateClosed:
		if success {
			return
		}
		b.failures = append(b.failures, now)
		b.pruneLocked(now)
		if len(b.failures) >= b.settings.FailureThreshold {
			b.openedAt = now
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.settings.Window)
	keep := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	b.failures = keep
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.generation++
	b.failures = b.failures[:0]
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
