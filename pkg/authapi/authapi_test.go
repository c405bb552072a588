package authapi

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/txn2/graphql-webapp/pkg/auth"
	"github.com/txn2/graphql-webapp/pkg/bodyparser"
	"github.com/txn2/graphql-webapp/pkg/httperr"
	"github.com/txn2/graphql-webapp/pkg/session"
	"github.com/txn2/graphql-webapp/pkg/users"
)

const (
	testSecret   = "authapi-test-secret-0123456789"
	testEmail    = "grace@example.com"
	testName     = "Grace"
	testPassword = "correct horse battery"
)

type harness struct {
	srv    *httptest.Server
	client *http.Client
	store  *session.MemoryStore
}

// newHarness serves the router behind the session and auth stages.
func newHarness(t *testing.T) *harness {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	mgr, err := session.NewManager(session.Config{Store: store, Secret: []byte(testSecret)})
	require.NoError(t, err)

	svc := users.NewService(users.NewMemoryRepository(), users.WithBcryptCost(bcrypt.MinCost))

	var h http.Handler = New(svc, nil)
	h = auth.Middleware(svc.Strategy(), nil)(h)
	h = mgr.Middleware(h)
	h = bodyparser.Middleware(bodyparser.Config{})(h)
	h = httperr.Terminal(httperr.NewHandler(nil))(h)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{srv: srv, client: &http.Client{Jar: jar}, store: store}
}

func (h *harness) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := h.client.Post(h.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := h.client.Get(h.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func signupBody() string {
	return `{"email":"` + testEmail + `","name":"` + testName + `","password":"` + testPassword + `"}`
}

func decodeUser(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSignupLogsIn(t *testing.T) {
	h := newHarness(t)

	resp := h.postJSON(t, "/signup", signupBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	u := decodeUser(t, resp)
	assert.Equal(t, testEmail, u["email"])
	assert.NotContains(t, u, "PasswordHash")

	me := h.get(t, "/me")
	require.Equal(t, http.StatusOK, me.StatusCode)
	assert.Equal(t, testEmail, decodeUser(t, me)["email"])

	list, err := h.store.List(t.Context())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, u["id"], list[0].UserID)
}

func TestSignupDuplicate(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.postJSON(t, "/signup", signupBody()).StatusCode)

	resp := h.postJSON(t, "/signup", signupBody())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSignupMissingPassword(t *testing.T) {
	h := newHarness(t)
	resp := h.postJSON(t, "/signup", `{"email":"`+testEmail+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.postJSON(t, "/signup", signupBody()).StatusCode)
	require.Equal(t, http.StatusNoContent, h.postJSON(t, "/logout", "").StatusCode)

	me := h.get(t, "/me")
	var anon any
	require.NoError(t, json.NewDecoder(me.Body).Decode(&anon))
	assert.Nil(t, anon)

	bad := h.postJSON(t, "/login", `{"email":"`+testEmail+`","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)

	good := h.postJSON(t, "/login", `{"username":"`+testEmail+`","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, good.StatusCode)
	assert.Equal(t, testEmail, decodeUser(t, good)["email"])
	assert.Equal(t, testEmail, decodeUser(t, h.get(t, "/me"))["email"])
}

func TestLoginForm(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.postJSON(t, "/signup", signupBody()).StatusCode)

	resp, err := h.client.PostForm(h.srv.URL+"/login", url.Values{
		"email":    {testEmail},
		"password": {testPassword},
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginUnknownUser(t *testing.T) {
	h := newHarness(t)
	resp := h.postJSON(t, "/login", `{"email":"nobody@example.com","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	list, err := h.store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLogoutDestroysSession(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.postJSON(t, "/signup", signupBody()).StatusCode)

	resp := h.postJSON(t, "/logout", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	list, err := h.store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.get(t, "/login")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
