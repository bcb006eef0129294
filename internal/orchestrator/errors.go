package orchestrator

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode is the stable machine-readable code returned to clients.
type ErrorCode string

const (
	CodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
	CodeTenantNotFound       ErrorCode = "TENANT_NOT_FOUND"
	CodeTenantConfigInvalid  ErrorCode = "TENANT_CONFIG_INVALID"
	CodeConfigUnavailable    ErrorCode = "CONFIG_UNAVAILABLE"
	CodeRateLimited          ErrorCode = "RATE_LIMITED"
	CodeStateContention      ErrorCode = "STATE_CONTENTION"
	CodeStateUnavailable     ErrorCode = "STATE_UNAVAILABLE"
	CodeResponderUnavailable ErrorCode = "RESPONDER_UNAVAILABLE"
	CodeRequestTimeout       ErrorCode = "REQUEST_TIMEOUT"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// CodeOK labels successful requests in metrics and audit events.
const CodeOK = "OK"

type codeInfo struct {
	status    int
	message   string
	retryable bool
}

var codeTable = map[ErrorCode]codeInfo{
	CodeInvalidRequest:       {http.StatusBadRequest, "The request is malformed.", false},
	CodeTenantNotFound:       {http.StatusNotFound, "This chat is not available.", false},
	CodeTenantConfigInvalid:  {http.StatusServiceUnavailable, "This chat is temporarily unavailable.", false},
	CodeConfigUnavailable:    {http.StatusServiceUnavailable, "This chat is temporarily unavailable. Please try again shortly.", true},
	CodeRateLimited:          {http.StatusTooManyRequests, "You're sending messages too quickly. Please wait a moment.", true},
	CodeStateContention:      {http.StatusConflict, "Your message could not be saved. Please send it again.", true},
	CodeStateUnavailable:     {http.StatusServiceUnavailable, "We couldn't save your message. Please try again shortly.", true},
	CodeResponderUnavailable: {http.StatusBadGateway, "The assistant is unavailable right now. Please try again.", true},
	CodeRequestTimeout:       {http.StatusGatewayTimeout, "The request took too long. Please try again.", true},
	CodeInternal:             {http.StatusInternalServerError, "Something went wrong.", false},
}

// Error is the terminal failure of a request. Message is safe to show to
// end users; Err carries internal detail and is never serialized.
type Error struct {
	Code       ErrorCode
	Message    string
	Stage      Stage
	Status     int
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("orchestrator: %s at %s (%s)", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("orchestrator: %s at %s (%s): %v", e.Code, e.Stage, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, stage Stage, err error) *Error {
	info, ok := codeTable[code]
	if !ok {
		code, info = CodeInternal, codeTable[CodeInternal]
	}
	return &Error{
		Code:      code,
		Message:   info.message,
		Stage:     stage,
		Status:    info.status,
		Retryable: info.retryable,
		Err:       err,
	}
}

func invalid(stage Stage, reason string) *Error {
	e := newError(CodeInvalidRequest, stage, nil)
	e.Message = reason
	return e
}

// StatusFor returns the HTTP status for a code.
func StatusFor(code ErrorCode) int {
	if info, ok := codeTable[code]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}
