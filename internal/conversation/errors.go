package conversation

import (
	"errors"
	"fmt"
)

// Substrate sentinels. VersionedStore implementations return these; the
// StateStore lifts them into StateError.
var (
	ErrVersionConflict = errors.New("conversation: version conflict")
	ErrSessionNotFound = errors.New("conversation: session not found")
	ErrContention      = errors.New("conversation: contention")
	ErrUnavailable     = errors.New("conversation: state store unavailable")
)

// StateErrorKind classifies a StateError.
type StateErrorKind string

const (
	VersionConflict StateErrorKind = "version_conflict"
	Contention      StateErrorKind = "contention"
	NotFound        StateErrorKind = "not_found"
	Unavailable     StateErrorKind = "unavailable"
)

// StateError is returned by StateStore operations.
type StateError struct {
	Kind     StateErrorKind
	Key      Key
	Expected int
	Actual   int
	Err      error
}

func (e *StateError) Error() string {
	switch e.Kind {
	case VersionConflict:
		if e.Actual < 0 {
			return "conversation: version conflict on conditional write"
		}
		return fmt.Sprintf("conversation: version conflict (expected turn %d, stored %d)", e.Expected, e.Actual)
	case Contention:
		return "conversation: contention after repeated version conflicts"
	}
	if e.Err != nil {
		return fmt.Sprintf("conversation: %s: %v", e.Kind, e.Err)
	}
	return "conversation: " + string(e.Kind)
}

func (e *StateError) Unwrap() error { return e.Err }

func (e *StateError) Is(target error) bool {
	switch target {
	case ErrVersionConflict:
		return e.Kind == VersionConflict
	case ErrContention:
		return e.Kind == Contention
	case ErrSessionNotFound:
		return e.Kind == NotFound
	case ErrUnavailable:
		return e.Kind == Unavailable
	}
	return false
}

// KindOf reports the StateError kind carried by err, if any.
func KindOf(err error) (StateErrorKind, bool) {
	var se *StateError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
