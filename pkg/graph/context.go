// Package graph serves the GraphQL endpoint: the schema, the executor and
// the HTTP handler that adds tracing and response caching through the
// engine.
package graph

import (
	"context"

	"github.com/txn2/graphql-webapp/pkg/auth"
)

// RequestContext is the per-request value resolvers see. It is built fresh
// for each request and never shared.
type RequestContext struct {
	User auth.Principal
}

type contextKey struct{}

// WithRequestContext returns a context carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// RequestContextFrom returns the request context, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rc
}
