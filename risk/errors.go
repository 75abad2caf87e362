package risk

import (
	"errors"
	"fmt"
)

// Code is a closed set of reason codes carried by every rejection so order
// entry can report the exact cause for audit.
type Code string

const (
	CodeInvalidVolume        Code = "INVALID_VOLUME"
	CodeInsufficientMargin   Code = "INSUFFICIENT_MARGIN"
	CodeStaleQuote           Code = "STALE_QUOTE"
	CodeConfigurationError   Code = "CONFIGURATION_ERROR"
	CodeExecutionUnavailable Code = "EXECUTION_UNAVAILABLE"
	CodeExecutionRejected    Code = "EXECUTION_REJECTED"
	CodeOrderCancelled       Code = "ORDER_CANCELLED"
	CodeHedgeFailed          Code = "HEDGE_FAILED"
)

// PreMutation reports whether the code is raised before any state change,
// so the caller has nothing to undo.
func (c Code) PreMutation() bool {
	switch c {
	case CodeInvalidVolume, CodeInsufficientMargin, CodeStaleQuote, CodeConfigurationError, CodeOrderCancelled:
		return true
	}
	return false
}

type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Msg
}

// Is matches any *Error with the same code, so errors.Is(err, ErrStaleQuote)
// works on wrapped and freshly built errors alike.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidVolume        = &Error{Code: CodeInvalidVolume}
	ErrInsufficientMargin   = &Error{Code: CodeInsufficientMargin}
	ErrStaleQuote           = &Error{Code: CodeStaleQuote}
	ErrConfiguration        = &Error{Code: CodeConfigurationError}
	ErrExecutionUnavailable = &Error{Code: CodeExecutionUnavailable}
	ErrExecutionRejected    = &Error{Code: CodeExecutionRejected}
	ErrOrderCancelled       = &Error{Code: CodeOrderCancelled}
	ErrHedgeFailed          = &Error{Code: CodeHedgeFailed}
)

func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the reason code from err, or "" if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
