package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and retry decisions.
type Code string

const (
	// CodeInvalidInput marks malformed or structurally invalid input.
	// Never retried.
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound marks a missing entity.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a uniqueness or concurrent-write conflict.
	CodeConflict Code = "conflict"
	// CodeInvalidState marks an operation applied to an entity in the
	// wrong lifecycle state (e.g. activating a completed session).
	CodeInvalidState Code = "invalid_state"
	// CodeRoundClosed marks evidence arriving after a round's grace
	// window. Rejected but logged for audit.
	CodeRoundClosed Code = "round_closed"
	// CodeOutOfWindow marks evidence timestamped outside the round
	// window plus tolerance.
	CodeOutOfWindow Code = "out_of_window"
	// CodeUnvalidated marks evidence stored before whitelist generation;
	// it is retained and reprocessed, never silently validated.
	CodeUnvalidated Code = "unvalidated"
	// CodeInternal marks unexpected infrastructure failures.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Services construct these at the boundary
// where an infrastructure sentinel or validation failure becomes a caller
// visible outcome.
type Error struct {
	Code    Code
	Message string
	wrapped error
}

// New creates a coded domain error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded domain error preserving the underlying cause for
// errors.Is / errors.As chains.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, wrapped: err}
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
