// Package auth resolves the authenticated principal for a request from its
// session and provides login and logout against the session.
package auth

import "context"

// contextKey is a private type for context keys.
type contextKey int

const (
	principalContextKey contextKey = iota
	failureContextKey
)

// Principal is an authenticated identity. PrincipalID is the key stored in
// the session.
type Principal interface {
	PrincipalID() string
}

// WithPrincipal adds the principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the principal attached to the request, or
// nil for anonymous requests.
func PrincipalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalContextKey).(Principal); ok {
		return p
	}
	return nil
}

// withFailure records why principal resolution failed for this request.
func withFailure(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, failureContextKey, err)
}

// FailureFromContext returns the error that prevented the session's
// principal from being resolved, or nil.
func FailureFromContext(ctx context.Context) error {
	if err, ok := ctx.Value(failureContextKey).(error); ok {
		return err
	}
	return nil
}
