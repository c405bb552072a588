// Package bodyparser parses JSON and URL-encoded request bodies before any
// later stage reads them.
package bodyparser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/txn2/graphql-webapp/pkg/httperr"
)

// DefaultLimit is the maximum accepted body size in bytes.
const DefaultLimit int64 = 100 << 10

// contextKey is a private type for context keys.
type contextKey int

const jsonBodyContextKey contextKey = iota

// Config configures the body parsing stage.
type Config struct {
	// Limit is the maximum body size in bytes. Zero uses DefaultLimit.
	Limit int64
}

// Middleware returns the body parsing stage. JSON bodies are validated and
// kept in the request context; the body is restored so later stages can read
// it again. URL-encoded forms are parsed into r.PostForm.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r) {
				next.ServeHTTP(w, r)
				return
			}

			mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			switch mediaType {
			case "application/json":
				raw, err := readJSON(w, r, limit)
				if err != nil {
					httperr.Fail(w, r, err)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(raw))
				r = r.WithContext(withJSON(r.Context(), raw))
			case "application/x-www-form-urlencoded":
				r.Body = http.MaxBytesReader(w, r.Body, limit)
				if err := r.ParseForm(); err != nil {
					httperr.Fail(w, r, classify(err, "invalid form body"))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// hasBody reports whether the request may carry a body worth parsing.
func hasBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	return r.ContentLength != 0
}

// readJSON reads and validates a JSON body.
func readJSON(w http.ResponseWriter, r *http.Request, limit int64) (json.RawMessage, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, classify(err, "invalid JSON body")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		// An empty body is treated as an empty object.
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(data) {
		return nil, httperr.BadRequest("invalid JSON body")
	}
	return json.RawMessage(data), nil
}

// classify maps read errors to client errors.
func classify(err error, message string) *httperr.Error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return httperr.Wrap(err, http.StatusRequestEntityTooLarge, "request entity too large")
	}
	return httperr.Wrap(err, http.StatusBadRequest, message)
}

func withJSON(ctx context.Context, raw json.RawMessage) context.Context {
	return context.WithValue(ctx, jsonBodyContextKey, raw)
}

// JSON returns the parsed JSON body of the request, if any.
func JSON(r *http.Request) (json.RawMessage, bool) {
	raw, ok := r.Context().Value(jsonBodyContextKey).(json.RawMessage)
	return raw, ok
}

// Decode unmarshals the parsed JSON body into v. It reports a 400 error when
// the request carried no JSON body or the body does not fit v.
func Decode(r *http.Request, v any) error {
	raw, ok := JSON(r)
	if !ok {
		return httperr.BadRequest("expected a JSON body")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return httperr.Wrap(err, http.StatusBadRequest, "invalid JSON body")
	}
	return nil
}
