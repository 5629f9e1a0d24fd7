// Package errors defines the structured error taxonomy of the record store.
//
// Every failure surfaced by the codec, the executors, the blob backends and
// the facade is either one of these coded errors or wraps one.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode defines specific error kinds.
type ErrorCode string

const (
	// ErrFormat is returned when a table body cannot be decoded.
	ErrFormat ErrorCode = "FORMAT_ERROR"
	// ErrValidationFailed is returned when query parameters are invalid.
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrNotFound is returned when a table or object is absent.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrConflict is returned when a conditional write sees another version.
	ErrConflict ErrorCode = "CONFLICT"
	// ErrTransport is returned when the backend cannot be reached.
	ErrTransport ErrorCode = "TRANSPORT_ERROR"
	// ErrRemote is returned for any other non-2xx backend outcome.
	ErrRemote ErrorCode = "REMOTE_ERROR"
)

// Error is a concrete error type with status code, code, and optional details.
type Error struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// New creates a new Error with the given status code and message.
func New(statusCode int, code ErrorCode, message string) *Error {
	return &Error{
		statusCode: statusCode,
		code:       code,
		message:    message,
		details:    make(map[string]any),
	}
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// StatusCode returns the HTTP-like status code.
func (e *Error) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Format creates an error for an undecodable table body.
func Format(message string) *Error {
	return New(http.StatusUnprocessableEntity, ErrFormat, message)
}

// Validation creates an error for invalid caller input.
func Validation(message string) *Error {
	return New(http.StatusBadRequest, ErrValidationFailed, message)
}

// NotFound creates a 404 error for the given path.
func NotFound(path string) *Error {
	return New(http.StatusNotFound, ErrNotFound, fmt.Sprintf("%s not found", path)).WithDetail("path", path)
}

// Conflict creates a 409 error for a version mismatch on path.
func Conflict(path string) *Error {
	return New(http.StatusConflict, ErrConflict, fmt.Sprintf("%s: version conflict", path)).WithDetail("path", path)
}

// Transport wraps a connectivity failure.
func Transport(err error) *Error {
	return New(http.StatusServiceUnavailable, ErrTransport, "transport failure").Wrap(err)
}

// Remote creates an error for an unexpected backend status.
func Remote(statusCode int, message string) *Error {
	return New(statusCode, ErrRemote, fmt.Sprintf("remote error %d: %s", statusCode, message))
}

// CodeOf returns the code of the first Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.code
	}
	return ""
}

// IsNotFound reports whether err is or wraps a NotFound error.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsConflict reports whether err is or wraps a Conflict error.
func IsConflict(err error) bool {
	return CodeOf(err) == ErrConflict
}
