// Package authapi serves the account routes mounted at /auth: login, signup,
// logout and the current user.
package authapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/txn2/graphql-webapp/pkg/auth"
	"github.com/txn2/graphql-webapp/pkg/bodyparser"
	"github.com/txn2/graphql-webapp/pkg/httperr"
	"github.com/txn2/graphql-webapp/pkg/users"
)

const (
	msgWrongCredentials = "Wrong username and/or password"
	msgUserExists       = "User already exists"
)

// credentials is the login and signup payload. Username is accepted as an
// alias for Email.
type credentials struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (c credentials) email() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Username
}

// Handler holds the dependencies of the auth routes.
type Handler struct {
	users    *users.Service
	strategy auth.Strategy
	logger   *slog.Logger
}

// New returns the /auth router.
func New(svc *users.Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{users: svc, strategy: svc.Strategy(), logger: logger}

	r := chi.NewRouter()
	r.Method(http.MethodPost, "/login", httperr.HandlerFunc(h.login))
	r.Method(http.MethodPost, "/signup", httperr.HandlerFunc(h.signup))
	r.Method(http.MethodPost, "/logout", httperr.HandlerFunc(h.logout))
	r.Method(http.MethodGet, "/me", httperr.HandlerFunc(h.me))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperr.Fail(w, r, httperr.NotFound())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperr.Fail(w, r, httperr.New(http.StatusMethodNotAllowed, "Method not allowed"))
	})
	return r
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) error {
	c, err := readCredentials(r)
	if err != nil {
		return err
	}

	u, err := h.users.Authenticate(r.Context(), c.email(), c.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		return httperr.Unauthorized(msgWrongCredentials)
	}
	if err != nil {
		return httperr.Internal(err)
	}

	if err := auth.Login(r.Context(), h.strategy, u); err != nil {
		return httperr.Internal(err)
	}
	h.logger.Info("user logged in", "user_id", u.ID)
	writeJSON(w, http.StatusOK, u)
	return nil
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) error {
	c, err := readCredentials(r)
	if err != nil {
		return err
	}

	u, err := h.users.Register(r.Context(), c.email(), c.Name, c.Password)
	switch {
	case errors.Is(err, users.ErrEmailTaken):
		return httperr.Conflict(msgUserExists)
	case errors.Is(err, users.ErrInvalidInput):
		return httperr.Wrap(err, http.StatusBadRequest, "Email and password are required")
	case err != nil:
		return httperr.Internal(err)
	}

	if err := auth.Login(r.Context(), h.strategy, u); err != nil {
		return httperr.Internal(err)
	}
	h.logger.Info("user signed up", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, u)
	return nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) error {
	if err := auth.Logout(r.Context()); err != nil && !errors.Is(err, auth.ErrNoSession) {
		return httperr.Internal(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, users.UserFromPrincipal(auth.PrincipalFromContext(r.Context())))
	return nil
}

// readCredentials reads a JSON body parsed by bodyparser, falling back to
// form values.
func readCredentials(r *http.Request) (credentials, error) {
	var c credentials
	if _, ok := bodyparser.JSON(r); ok {
		if err := bodyparser.Decode(r, &c); err != nil {
			return c, err
		}
		return c, nil
	}
	if err := r.ParseForm(); err != nil {
		return c, httperr.Wrap(err, http.StatusBadRequest, "invalid form body")
	}
	c.Email = r.PostForm.Get("email")
	c.Username = r.PostForm.Get("username")
	c.Name = r.PostForm.Get("name")
	c.Password = r.PostForm.Get("password")
	return c, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
