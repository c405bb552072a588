package httperr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// contextKey is a private type for context keys.
type contextKey int

const handlerContextKey contextKey = iota

// Handler renders errors raised by earlier pipeline stages.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates an error handler. A nil logger uses slog.Default().
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger}
}

// ServeError logs err and writes the status and message. Server errors are
// logged with their stack; client errors are logged at warn without one.
func (h *Handler) ServeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status < http.StatusInternalServerError {
		h.logger.Warn("request rejected",
			"error", err,
			"status", status,
			"method", r.Method,
			"path", r.URL.Path,
		)
	} else {
		h.logger.Error("request failed",
			"error", err,
			"status", status,
			"method", r.Method,
			"path", r.URL.Path,
			"stack", StackOf(err),
		)
	}

	header := w.Header()
	header.Del("Content-Length")
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(MessageOf(err)))
}

// WithHandler installs h as the error handler for the request context.
func WithHandler(ctx context.Context, h *Handler) context.Context {
	return context.WithValue(ctx, handlerContextKey, h)
}

// handlerFromContext returns the installed handler, or a default one.
func handlerFromContext(ctx context.Context) *Handler {
	if h, ok := ctx.Value(handlerContextKey).(*Handler); ok && h != nil {
		return h
	}
	return NewHandler(nil)
}

// Fail routes err to the terminal error handler for this request. Stages
// call Fail and return instead of writing error responses themselves.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	handlerFromContext(r.Context()).ServeError(w, r, err)
}

// Terminal returns the final pipeline stage. It must wrap every other stage
// so that errors and panics from all of them reach h.
func Terminal(h *Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(WithHandler(r.Context(), h))

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
					panic(rec)
				}
				h.ServeError(w, r, panicError(rec))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// panicError converts a recovered value into an error. Panicking with an
// error keeps its declared status and message; any other value is a 500.
func panicError(rec any) error {
	stack := fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
	if err, ok := rec.(error); ok {
		var he *Error
		if errors.As(err, &he) {
			return &Error{Status: he.Status, Message: he.Message, Err: err, stack: stack}
		}
		return &Error{Status: http.StatusInternalServerError, Message: DefaultMessage, Err: err, stack: stack}
	}
	return &Error{
		Status:  http.StatusInternalServerError,
		Message: DefaultMessage,
		Err:     fmt.Errorf("panic: %v", rec),
		stack:   stack,
	}
}

// HandlerFunc is an http handler that reports failures by returning them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler, routing a returned error to Fail.
func (f HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := f(w, r); err != nil {
		Fail(w, r, err)
	}
}
