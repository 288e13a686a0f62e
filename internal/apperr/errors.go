// Package apperr defines the error taxonomy shared by the server, the HTTP
// client and the automation surfaces.
//
// Every failure that crosses a component boundary has a kind: not_found,
// invalid_input, conflict, unavailable or internal. Errors carry an optional
// human-readable hint that automation callers and the CLI show to the user.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers that need to branch on it.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
)

// Error is a classified error with an optional remediation hint.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithHint sets the remediation hint and returns the same error.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// NotFound creates a not_found error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Invalid creates an invalid_input error.
func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a conflict error: the request was valid but a
// precondition on current state no longer holds.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Unavailable creates an unavailable error.
func Unavailable(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps err as an internal error.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// Wrap attaches kind and message to an existing error.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HintOf returns the first hint found in err's chain.
func HintOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Hint != "" {
			return e.Hint
		}
		err = e.Err
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus is the inverse of HTTPStatus, used when decoding error bodies
// that carry no explicit kind.
func FromStatus(status int) Kind {
	switch status {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindInvalidInput
	case http.StatusConflict, http.StatusPreconditionFailed:
		return KindConflict
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadGateway:
		return KindUnavailable
	default:
		return KindInternal
	}
}
