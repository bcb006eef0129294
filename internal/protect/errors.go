package protect

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed protected call.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindCircuitOpen ErrorKind = "circuit_open"
	KindTransport   ErrorKind = "transport"
)

// Sentinels for errors.Is matching against a CallError's kind.
var (
	ErrTimeout     = errors.New("protect: timeout")
	ErrCircuitOpen = errors.New("protect: circuit open")
	ErrTransport   = errors.New("protect: transport failure")
)

// CallError is returned when a protected call could not produce a result.
type CallError struct {
	Kind       ErrorKind
	Dependency string
	Operation  string
	Attempts   int
	Err        error
}

func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("protect: %s %s/%s after %d attempt(s)", e.Kind, e.Dependency, e.Operation, e.Attempts)
	}
	return fmt.Sprintf("protect: %s %s/%s after %d attempt(s): %v", e.Kind, e.Dependency, e.Operation, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the kind sentinels so callers can write errors.Is(err, protect.ErrTimeout).
func (e *CallError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrCircuitOpen:
		return e.Kind == KindCircuitOpen
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}

// permanentError marks an outcome that is a valid answer from a healthy
// dependency (not found, conditional check failed). It is neither retried nor
// counted against the breaker.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Call returns it unchanged without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func asPermanent(err error) (error, bool) {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err, true
	}
	return nil, false
}
