package bodyparser

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPath        = "/graphql"
	testContentJSON = "application/json"
	testContentForm = "application/x-www-form-urlencoded"
)

// recordingHandler captures what later stages observe.
type recordingHandler struct {
	called bool
	raw    string
	hasRaw bool
	body   string
	form   string
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	if raw, ok := JSON(r); ok {
		h.raw = string(raw)
		h.hasRaw = true
	}
	b, _ := io.ReadAll(r.Body)
	h.body = string(b)
	h.form = r.PostForm.Get("email")
	w.WriteHeader(http.StatusOK)
}

func serve(t *testing.T, cfg Config, req *http.Request) (*httptest.ResponseRecorder, *recordingHandler) {
	t.Helper()
	inner := &recordingHandler{}
	rec := httptest.NewRecorder()
	Middleware(cfg)(inner).ServeHTTP(rec, req)
	return rec, inner
}

func TestMiddleware_JSONBodyAvailableAndRereadable(t *testing.T) {
	body := `{"query":"{ __typename }"}`
	req := httptest.NewRequest(http.MethodPost, testPath, strings.NewReader(body))
	req.Header.Set("Content-Type", testContentJSON+"; charset=utf-8")

	rec, inner := serve(t, Config{}, req)

	require.True(t, inner.called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, inner.hasRaw)
	assert.JSONEq(t, body, inner.raw)
	assert.Equal(t, body, inner.body, "body should be restored for later readers")
}

func TestMiddleware_MalformedJSONFails400(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, testPath, strings.NewReader(`{"query":`))
	req.Header.Set("Content-Type", testContentJSON)

	rec, inner := serve(t, Config{}, req)

	assert.False(t, inner.called)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", rec.Body.String())
}

func TestMiddleware_OversizedBodyFails413(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, testPath, strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`))
	req.Header.Set("Content-Type", testContentJSON)

	rec, inner := serve(t, Config{Limit: 16}, req)

	assert.False(t, inner.called)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMiddleware_EmptyJSONBodyIsEmptyObject(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, testPath, strings.NewReader("  "))
	req.Header.Set("Content-Type", testContentJSON)

	_, inner := serve(t, Config{}, req)

	require.True(t, inner.called)
	assert.Equal(t, "{}", inner.raw)
}

func TestMiddleware_URLEncodedForm(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("email=cody%40example.com&password=x"))
	req.Header.Set("Content-Type", testContentForm)

	_, inner := serve(t, Config{}, req)

	require.True(t, inner.called)
	assert.Equal(t, "cody@example.com", inner.form)
	assert.False(t, inner.hasRaw)
}

func TestMiddleware_NoBodyPassesThrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)

	rec, inner := serve(t, Config{}, req)

	assert.True(t, inner.called)
	assert.False(t, inner.hasRaw)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_OtherContentTypesUntouched(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("raw bytes"))
	req.Header.Set("Content-Type", "text/plain")

	_, inner := serve(t, Config{}, req)

	assert.False(t, inner.hasRaw)
	assert.Equal(t, "raw bytes", inner.body)
}

func TestDecode(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, testPath, strings.NewReader(`{"email":"a@b.c"}`))
	req.Header.Set("Content-Type", testContentJSON)

	var got struct {
		Email string `json:"email"`
	}
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		require.NoError(t, Decode(r, &got))
	})
	Middleware(Config{})(inner).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "a@b.c", got.Email)
}

func TestDecode_WithoutJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, testPath, http.NoBody)
	var v map[string]any
	err := Decode(req, &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a JSON body")
}
