// Package pipeline assembles the request pipeline: body parsing, compression,
// session resolution, authentication, dispatch, and the terminal error stage
// that wraps them all.
package pipeline

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"github.com/txn2/graphql-webapp/pkg/auth"
	"github.com/txn2/graphql-webapp/pkg/bodyparser"
	"github.com/txn2/graphql-webapp/pkg/graph"
	"github.com/txn2/graphql-webapp/pkg/httperr"
	"github.com/txn2/graphql-webapp/pkg/session"
)

// Stage names, in request order.
const (
	StageTerminal    = "terminal"
	StageBodyParser  = "bodyparser"
	StageCompression = "compression"
	StageSession     = "session"
	StageAuth        = "auth"
	StageDispatch    = "dispatch"
)

const (
	// GraphQLPath is the query endpoint.
	GraphQLPath = "/graphql"

	// GraphiQLPath serves the interactive client outside production.
	GraphiQLPath = "/graphiql"
)

var (
	errNoSessions = errors.New("pipeline: session manager is required")
	errNoQuery    = errors.New("pipeline: query handler is required")
	errNoAuth     = errors.New("pipeline: auth router is required")
	errNoAPI      = errors.New("pipeline: api router is required")
)

// Deps are the collaborators the pipeline is assembled from.
type Deps struct {
	Sessions   *session.Manager
	Strategy   auth.Strategy
	AuthRouter http.Handler
	APIRouter  http.Handler
	Query      http.Handler

	// PublicDir is the static root. Empty disables static serving.
	PublicDir string

	// Production disables the interactive query client.
	Production bool

	// Errors renders failures. Nil uses a handler logging to Logger.
	Errors *httperr.Handler

	// BodyLimit caps request bodies. Zero uses bodyparser.DefaultLimit.
	BodyLimit int64

	Logger *slog.Logger
}

func (d Deps) validate() error {
	var errs []error
	if d.Sessions == nil {
		errs = append(errs, errNoSessions)
	}
	if err := d.Strategy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if d.AuthRouter == nil {
		errs = append(errs, errNoAuth)
	}
	if d.APIRouter == nil {
		errs = append(errs, errNoAPI)
	}
	if d.Query == nil {
		errs = append(errs, errNoQuery)
	}
	return errors.Join(errs...)
}

// Pipeline is the assembled, immutable request handler.
type Pipeline struct {
	handler http.Handler
	stages  []string
}

// Assemble builds the pipeline from d.
func Assemble(d Deps) (*Pipeline, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Errors == nil {
		d.Errors = httperr.NewHandler(d.Logger)
	}

	chain := NewChain()
	chain.Use(StageBodyParser, bodyparser.Middleware(bodyparser.Config{Limit: d.BodyLimit}))
	chain.Use(StageCompression, func(next http.Handler) http.Handler {
		return gzhttp.GzipHandler(next)
	})
	chain.Use(StageSession, d.Sessions.Middleware)
	chain.Use(StageAuth, auth.Middleware(d.Strategy, d.Logger))
	chain.UseOuter(StageTerminal, httperr.Terminal(d.Errors))

	router := dispatch(d)
	return &Pipeline{
		handler: chain.Then(router),
		stages:  append(chain.Names(), StageDispatch),
	}, nil
}

// dispatch routes by priority: /auth, /api, existing static files,
// /graphql, /graphiql, then 404.
func dispatch(d Deps) http.Handler {
	files := newStatic(d.PublicDir)
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httperr.Fail(w, r, httperr.NotFound())
	})

	r := chi.NewRouter()
	r.Mount("/auth", d.AuthRouter)
	r.Mount("/api", d.APIRouter)
	r.Handle(GraphQLPath, files.or(d.Query))
	if !d.Production {
		r.Method(http.MethodGet, GraphiQLPath, files.or(graph.GraphiQLHandler(GraphQLPath, d.Logger)))
	}
	r.NotFound(files.or(notFound).ServeHTTP)
	r.MethodNotAllowed(files.or(notFound).ServeHTTP)
	return r
}

// ServeHTTP implements http.Handler.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Handler returns the composed handler.
func (p *Pipeline) Handler() http.Handler {
	return p.handler
}

// Stages returns the stage names in the order a request passes through them.
func (p *Pipeline) Stages() []string {
	return append([]string(nil), p.stages...)
}
