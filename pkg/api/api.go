// Package api serves the JSON routes mounted at /api.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/txn2/graphql-webapp/pkg/auth"
	"github.com/txn2/graphql-webapp/pkg/httperr"
	"github.com/txn2/graphql-webapp/pkg/users"
)

// New returns the /api router.
func New(repo users.Repository) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(requirePrincipal)
		r.Method(http.MethodGet, "/users", listUsers(repo))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperr.Fail(w, r, httperr.NotFound())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperr.Fail(w, r, httperr.New(http.StatusMethodNotAllowed, "Method not allowed"))
	})
	return r
}

// requirePrincipal rejects anonymous requests.
func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.PrincipalFromContext(r.Context()) == nil {
			httperr.Fail(w, r, httperr.Unauthorized("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func listUsers(repo users.Repository) httperr.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		list, err := repo.List(r.Context())
		if err != nil {
			return httperr.Internal(err)
		}
		if list == nil {
			list = []*users.User{}
		}
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(list)
	}
}
