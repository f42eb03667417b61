// Package apperr defines the typed error taxonomy shared by every core
// component and the HTTP surface that maps it to status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a taxonomy member. Kinds are never compared by string
// value outside this package; callers use the exported constants.
type Kind string

const (
	SessionNotFound       Kind = "SessionNotFound"
	PageNotFound          Kind = "PageNotFound"
	PageGone              Kind = "PageGone"
	InvalidBrowserKind    Kind = "InvalidBrowserKind"
	BadArguments          Kind = "BadArguments"
	UnknownCommand        Kind = "UnknownCommand"
	UnparsableLine        Kind = "UnparsableLine"
	CapacityExceeded      Kind = "CapacityExceeded"
	Timeout               Kind = "Timeout"
	ElementNotFound       Kind = "ElementNotFound"
	NavigationInterrupted Kind = "NavigationInterrupted"
	BackendLaunchFailed   Kind = "BackendLaunchFailed"
	BackendError          Kind = "BackendError"
	VisionOverloaded      Kind = "VisionOverloaded"
	VisionAuth            Kind = "VisionAuth"
	VisionMalformed       Kind = "VisionMalformed"
)

var statusByKind = map[Kind]int{
	SessionNotFound:       http.StatusNotFound,
	PageNotFound:          http.StatusNotFound,
	PageGone:              http.StatusGone,
	InvalidBrowserKind:    http.StatusBadRequest,
	BadArguments:          http.StatusBadRequest,
	UnknownCommand:        http.StatusBadRequest,
	UnparsableLine:        http.StatusBadRequest,
	CapacityExceeded:      http.StatusTooManyRequests,
	Timeout:               http.StatusGatewayTimeout,
	ElementNotFound:       http.StatusUnprocessableEntity,
	NavigationInterrupted: http.StatusUnprocessableEntity,
	BackendLaunchFailed:   http.StatusInternalServerError,
	BackendError:          http.StatusInternalServerError,
	VisionOverloaded:      http.StatusServiceUnavailable,
	VisionAuth:            http.StatusUnauthorized,
	VisionMalformed:       http.StatusBadGateway,
}

// HTTPStatus returns the status code the HTTP surface should use for kind.
// Unknown kinds map to 500, treated as an internal bug rather than a client
// error.
func HTTPStatus(kind Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is the concrete error type carried through every layer below the
// HTTP surface. It never escapes as a bare string: callers type-assert with
// errors.As to recover Kind and Details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error carrying cause as its Unwrap target, following
// the teacher's fmt.Errorf("...: %w", err) convention but keeping Kind
// structured instead of folding it into the message string.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured detail fields (e.g. the offending field
// name for BadArguments) and returns the receiver for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Is reports whether target is an *Error of the same Kind, ignoring the
// message, so errors.Is can compare against a message-less value such as
// apperr.New(apperr.Timeout, "").
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// AsError recovers the *Error carried by err, wrapping any other error as
// an opaque BackendError so the HTTP surface always has a Kind to map.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(BackendError, err, err.Error())
}
