// Package apperror defines the error taxonomy shared by the game controllers and the HTTP layer.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindInvalidCoordinates
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidCoordinates:
		return "invalid_coordinates"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

func newKind(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// InvalidInput reports missing or malformed request fields.
func InvalidInput(format string, args ...interface{}) *Error {
	return newKind(KindInvalidInput, format, args...)
}

// InvalidCoordinates reports a guess outside the atlas volume or with the wrong shape.
func InvalidCoordinates(format string, args ...interface{}) *Error {
	return newKind(KindInvalidCoordinates, format, args...)
}

// Forbidden reports a token/session mismatch.
func Forbidden(format string, args ...interface{}) *Error {
	return newKind(KindForbidden, format, args...)
}

// NotFound reports an unknown session or lobby.
func NotFound(format string, args ...interface{}) *Error {
	return newKind(KindNotFound, format, args...)
}

// Conflict reports a request that clashes with current state.
func Conflict(format string, args ...interface{}) *Error {
	return newKind(KindConflict, format, args...)
}

// Internal wraps a storage or transport failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns a client-safe message for err. Internal causes are not exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInternal {
			return e.Msg
		}
		return e.Error()
	}
	return "internal error"
}
