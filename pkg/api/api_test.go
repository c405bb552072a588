package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/graphql-webapp/pkg/auth"
	"github.com/txn2/graphql-webapp/pkg/httperr"
	"github.com/txn2/graphql-webapp/pkg/users"
)

const (
	apiTestEmailA = "a@example.com"
	apiTestEmailB = "b@example.com"
)

type failingRepo struct {
	users.Repository
}

func (failingRepo) List(context.Context) ([]*users.User, error) {
	return nil, errors.New("connection reset")
}

func serve(t *testing.T, h http.Handler, method, path string, p auth.Principal) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	httperr.Terminal(httperr.NewHandler(nil))(h).ServeHTTP(rec, req)
	return rec
}

func TestListUsers(t *testing.T) {
	repo := users.NewMemoryRepository()
	a := &users.User{ID: uuid.New(), Email: apiTestEmailA, PasswordHash: "secret"}
	require.NoError(t, repo.Create(context.Background(), &users.User{ID: uuid.New(), Email: apiTestEmailB}))
	require.NoError(t, repo.Create(context.Background(), a))

	rec := serve(t, New(repo), http.MethodGet, "/users", a)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, apiTestEmailA, out[0]["email"])
	assert.Equal(t, apiTestEmailB, out[1]["email"])
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestListUsersAnonymous(t *testing.T) {
	rec := serve(t, New(users.NewMemoryRepository()), http.MethodGet, "/users", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", rec.Body.String())
}

func TestListUsersRepoError(t *testing.T) {
	u := &users.User{ID: uuid.New()}
	rec := serve(t, New(failingRepo{}), http.MethodGet, "/users", u)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, httperr.DefaultMessage, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	rec := serve(t, New(users.NewMemoryRepository()), http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", rec.Body.String())
}
