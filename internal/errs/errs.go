// Package errs defines the coded error taxonomy shared by the store, the
// remote client and the sync/transfer engines.
package errs

import (
	"errors"
)

// Code is an application error code.
type Code string

const (
	// InvalidArgument marks malformed input rejected before any mutation.
	InvalidArgument Code = "invalid_argument"
	// NotFound marks a record id that does not exist for the owner.
	NotFound Code = "not_found"
	// Unavailable marks a connectivity-class failure (remote unreachable,
	// index backend down).
	Unavailable Code = "unavailable"
	// Rejected marks a remote that answered but reported failure.
	Rejected Code = "rejected"
	Internal Code = "internal"
)

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// MessageOf returns a user-facing error message.
// Untyped errors collapse to "internal error" so raw driver errors and file
// paths are not echoed back to users.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// ExitCode maps an error to the process exit status used by the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CodeOf(err) {
	case InvalidArgument:
		return 1
	case Rejected:
		return 2
	case Unavailable:
		return 3
	default:
		return 4
	}
}
