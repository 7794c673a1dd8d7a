// Package status defines the error taxonomy shared across the serving core.
// Every layer — repository, manager, request normalizer, scheduler, server —
// propagates errors of these codes unchanged rather than wrapping them in
// ad-hoc strings, so callers can switch on Code without parsing messages.
package status

import (
	"errors"
	"fmt"
)

// Code is one of the taxonomy entries from the error handling design.
type Code int

const (
	Unknown Code = iota
	InvalidArg
	NotFound
	Unavailable
	AlreadyExists
	DeadlineExceeded
	Internal
)

func (c Code) String() string {
	switch c {
	case InvalidArg:
		return "InvalidArg"
	case NotFound:
		return "NotFound"
	case Unavailable:
		return "Unavailable"
	case AlreadyExists:
		return "AlreadyExists"
	case DeadlineExceeded:
		return "DeadlineExceeded"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error pairs a taxonomy Code with a message and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around an existing cause.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether the first *Error in err's chain carries the given
// Code; codes of *Errors wrapped beneath it are not consulted.
func Is(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, defaulting to Unknown for plain errors.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	if err == nil {
		return Unknown
	}
	return Unknown
}
