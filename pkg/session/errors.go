package session

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on the class of error
// rather than matching message text.
type Kind string

const (
	// KindInvalidArgument indicates malformed or missing input, detected
	// before any browser call is made.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"

	// KindNotFound indicates an unknown or already-closed session id.
	KindNotFound Kind = "NOT_FOUND"

	// KindSessionClosed indicates the session id is valid but the session
	// is mid-teardown and can no longer run actions.
	KindSessionClosed Kind = "SESSION_CLOSED"

	// KindBusyTimeout indicates exclusive access to the session was not
	// obtained within the acquire bound.
	KindBusyTimeout Kind = "BUSY_TIMEOUT"

	// KindLaunchError indicates the browser engine failed to start a
	// new instance.
	KindLaunchError Kind = "LAUNCH_ERROR"

	// KindActionFailed indicates the underlying browser call raised
	// during navigate/click/type/etc.
	KindActionFailed Kind = "ACTION_FAILED"

	// KindDriverUnavailable indicates the engine itself is missing or its
	// install/verification failed. Distinct from KindLaunchError so callers
	// can tell "retry later" from "this page doesn't exist".
	KindDriverUnavailable Kind = "DRIVER_UNAVAILABLE"

	// KindCapacityExceeded indicates the configured session cap was reached
	// and no new session can be created until one is closed or reclaimed.
	KindCapacityExceeded Kind = "CAPACITY_EXCEEDED"
)

// Error is the error type returned by the registry, dispatcher, and
// supervisor. It carries a Kind for programmatic handling and wraps the
// underlying cause when one exists.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an underlying error with a kind and context message.
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf extracts the Kind from an error chain. Errors that did not
// originate from this package report an empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether the error chain contains an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
