package tenantconfig

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed resolution.
type ErrorKind string

const (
	NotFound    ErrorKind = "not_found"
	Unavailable ErrorKind = "unavailable"
	Invalid     ErrorKind = "invalid"
)

// Sentinels matched by ConfigError.Is.
var (
	ErrNotFound    = errors.New("tenantconfig: not found")
	ErrUnavailable = errors.New("tenantconfig: unavailable")
	ErrInvalid     = errors.New("tenantconfig: invalid")
)

// ConfigError is returned by the resolver. Handle is the tenant handle as
// requested; callers must hash it before logging.
type ConfigError struct {
	Kind     ErrorKind
	Handle   string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tenantconfig: %s", e.Kind)
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == NotFound
	case ErrUnavailable:
		return e.Kind == Unavailable
	case ErrInvalid:
		return e.Kind == Invalid
	}
	return false
}

// KindOf reports the ConfigError kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
