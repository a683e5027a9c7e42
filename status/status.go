// Package status defines the result-code taxonomy every public engine
// operation returns, wrapping causes with github.com/pkg/errors at each
// layer boundary, with each layer attaching its own message.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is one of the result codes a core operation can return.
type Code int

const (
	OK Code = iota
	InvalidArgument
	FailedPrecondition
	NotFound
	AlreadyExists
	OutOfSpace
	Aborted
	Internal
	WarningDataLoss
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case FailedPrecondition:
		return "FAILED_PRECONDITION"
	case NotFound:
		return "NOT_FOUND"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case OutOfSpace:
		return "OUT_OF_SPACE"
	case Aborted:
		return "ABORTED"
	case Internal:
		return "INTERNAL"
	case WarningDataLoss:
		return "WARNING_DATA_LOSS"
	default:
		return "UNKNOWN"
	}
}

// Status is the typed error every core operation returns. It never
// unwinds the stack by panicking; it is a plain error value, returned and
// checked explicitly at every call site.
type Status struct {
	Code    Code
	Message string
	cause   error
}

func (s *Status) Error() string {
	if s.cause != nil {
		return fmt.Sprintf("%s: %s: %v", s.Code, s.Message, s.cause)
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

// Unwrap lets errors.Is/errors.As and errors.Cause see through to the
// underlying cause.
func (s *Status) Unwrap() error { return s.cause }

// New creates a Status with no underlying cause.
func New(code Code, message string) *Status {
	return &Status{Code: code, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...interface{}) *Status {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and a message to cause. It always creates a fresh
// Status carrying the given code, even when cause is itself a *Status, so
// intermediate layers can re-contextualize an error without losing the
// root cause.
func Wrap(code Code, cause error, message string) *Status {
	return &Status{Code: code, Message: message, cause: errors.Wrap(cause, message)}
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(code Code, cause error, format string, args ...interface{}) *Status {
	return Wrap(code, cause, fmt.Sprintf(format, args...))
}

// Of extracts the Code from err, returning OK if err is nil and Internal
// for any error that isn't a *Status (a programming error: every boundary
// should return a *Status, so an untyped error escaping means a layer
// forgot to wrap it).
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var s *Status
	if errors.As(err, &s) {
		return s.Code
	}
	return Internal
}

// Is reports whether err is a *Status with the given code.
func Is(err error, code Code) bool {
	return Of(err) == code
}
