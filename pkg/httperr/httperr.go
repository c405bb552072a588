// Package httperr provides status-carrying errors and the terminal error stage
// of the request pipeline. Every failure raised while handling a request is
// surfaced through Fail so that it is logged and rendered in one place.
package httperr

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// DefaultMessage is sent when an error carries no client-safe message.
const DefaultMessage = "Internal server error."

// Error is an error with an HTTP status and a client-safe message.
type Error struct {
	// Status is the HTTP status code to respond with.
	Status int

	// Message is the response body. It must be safe to show to clients.
	Message string

	// Err is the underlying cause, if any. It is logged but never rendered.
	Err error

	// stack records where the error was created.
	stack error
}

// New creates an Error with the given status and message.
func New(status int, message string) *Error {
	return &Error{
		Status:  status,
		Message: message,
		stack:   pkgerrors.New(message),
	}
}

// Wrap creates an Error around a cause.
func Wrap(err error, status int, message string) *Error {
	return &Error{
		Status:  status,
		Message: message,
		Err:     err,
		stack:   pkgerrors.WithStack(err),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Stack returns the formatted stack trace captured when the error was created.
func (e *Error) Stack() string {
	if e.stack == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.stack)
}

// BadRequest returns a 400 error.
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

// Unauthorized returns a 401 error.
func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, message)
}

// Forbidden returns a 403 error.
func Forbidden(message string) *Error {
	return New(http.StatusForbidden, message)
}

// NotFound returns a 404 error with the standard message.
func NotFound() *Error {
	return New(http.StatusNotFound, "Not found")
}

// Conflict returns a 409 error.
func Conflict(message string) *Error {
	return New(http.StatusConflict, message)
}

// Internal wraps an unexpected failure as a 500 error with the default message.
func Internal(err error) *Error {
	return Wrap(err, http.StatusInternalServerError, DefaultMessage)
}

// StatusOf returns the HTTP status declared by err, or 500.
func StatusOf(err error) int {
	var he *Error
	if errors.As(err, &he) && he.Status >= http.StatusBadRequest && he.Status <= 599 {
		return he.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-safe message for err. Errors that do not
// declare a message fall back to DefaultMessage so internal details are not
// leaked.
func MessageOf(err error) string {
	var he *Error
	if errors.As(err, &he) && he.Message != "" {
		return he.Message
	}
	return DefaultMessage
}

// stackTracer is implemented by errors created with github.com/pkg/errors.
type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// StackOf returns a printable stack for err. Errors without a recorded stack
// get one captured at the call site.
func StackOf(err error) string {
	var he *Error
	if errors.As(err, &he) && he.stack != nil {
		return he.Stack()
	}
	var st stackTracer
	if errors.As(err, &st) {
		return fmt.Sprintf("%+v", st)
	}
	return fmt.Sprintf("%+v", pkgerrors.WithStack(err))
}
