package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies mediation errors.
type ErrorKind string

const (
	// KindUnknown is reported for errors that carry no kind.
	KindUnknown ErrorKind = ""
	// KindInvalidRequest indicates a malformed or contradictory request.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindConfiguration indicates an unresolvable configuration input.
	KindConfiguration ErrorKind = "configuration"
	// KindConnection indicates the daemon could not be reached.
	KindConnection ErrorKind = "connection"
	// KindExecution indicates the backend ran but the operation failed.
	KindExecution ErrorKind = "execution"
	// KindProtocolMismatch indicates an event or result shape that cannot be
	// mapped to the versioned client shape.
	KindProtocolMismatch ErrorKind = "protocol_mismatch"
	// KindCancelled indicates the build stopped because cancellation was requested.
	KindCancelled ErrorKind = "cancelled"
)

// ParseErrorKind maps a wire string to a known kind.
// Unrecognized strings map to KindExecution, the kind of any failure that
// came back from a backend.
func ParseErrorKind(s string) ErrorKind {
	switch k := ErrorKind(s); k {
	case KindInvalidRequest, KindConfiguration, KindConnection,
		KindExecution, KindProtocolMismatch, KindCancelled:
		return k
	default:
		return KindExecution
	}
}

// Error is a classified mediation error.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind returns the classification of e.
func (e *Error) ErrorKind() ErrorKind {
	return e.Kind
}

// kinded is implemented by every error value that carries a kind, including
// errors reconstructed from a serialized failure payload.
type kinded interface {
	ErrorKind() ErrorKind
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindUnknown
}

// IsKind reports whether err's chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// InvalidRequest returns an invalid request error.
func InvalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Msg: msg}
}

// Configuration returns a configuration error wrapping err (may be nil).
func Configuration(msg string, err error) *Error {
	return &Error{Kind: KindConfiguration, Msg: msg, Err: err}
}

// Connection returns a daemon connection error wrapping err (may be nil).
func Connection(msg string, err error) *Error {
	return &Error{Kind: KindConnection, Msg: msg, Err: err}
}

// ProtocolMismatch returns a protocol mismatch error.
func ProtocolMismatch(msg string) *Error {
	return &Error{Kind: KindProtocolMismatch, Msg: msg}
}

// Execution returns an execution failure wrapping err (may be nil).
func Execution(msg string, err error) *Error {
	return &Error{Kind: KindExecution, Msg: msg, Err: err}
}

// Cancelled returns a cancellation failure.
func Cancelled(msg string) *Error {
	return &Error{Kind: KindCancelled, Msg: msg}
}
