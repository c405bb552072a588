package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/txn2/graphql-webapp/pkg/httperr"
)

const (
	// DefaultCookieName is the cookie carrying the signed session id.
	DefaultCookieName = "webapp.sid"

	// DefaultTTL is the idle lifetime of a persisted session.
	DefaultTTL = 24 * time.Hour

	// MinSecretLength is the minimum accepted signing secret length in bytes.
	MinSecretLength = 16

	slogKeyError     = "error"
	slogKeySessionID = "session_id"
)

var (
	// ErrNoStore is returned by NewManager when no Store is configured.
	ErrNoStore = errors.New("session: store is required")

	// ErrSecretTooShort is returned by NewManager when the signing secret is
	// missing or shorter than MinSecretLength.
	ErrSecretTooShort = fmt.Errorf("session: secret must be at least %d bytes", MinSecretLength)
)

// Config configures a Manager.
type Config struct {
	Store      Store
	Secret     []byte
	CookieName string
	TTL        time.Duration
	Path       string
	Secure     bool
	SameSite   http.SameSite
	Logger     *slog.Logger
}

// Manager resolves each request's session from its signed cookie and
// writes the cookie back when the session was persisted, regenerated or
// destroyed. Sessions are only persisted once something is stored in them.
type Manager struct {
	store      Store
	secret     []byte
	cookieName string
	ttl        time.Duration
	path       string
	secure     bool
	sameSite   http.SameSite
	logger     *slog.Logger
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:      cfg.Store,
		secret:     cfg.Secret,
		cookieName: cfg.CookieName,
		ttl:        cfg.TTL,
		path:       cfg.Path,
		secure:     cfg.Secure,
		sameSite:   cfg.SameSite,
		logger:     cfg.Logger,
	}, nil
}

// Store returns the backing session store.
func (m *Manager) Store() Store {
	return m.store
}

// Middleware attaches a *State to every request context. A store failure
// while loading the session is reported through httperr.Fail.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := m.Load(r)
		if err != nil {
			httperr.Fail(w, r, httperr.Internal(err))
			return
		}

		r = r.WithContext(WithState(r.Context(), st))
		cw := &commitWriter{
			ResponseWriter: w,
			commit:         func() { m.commit(r.Context(), w.Header(), st) },
		}
		next.ServeHTTP(cw, r)
		cw.ensureCommitted()
	})
}

// Load resolves the session named by the request cookie. A missing, invalid
// or expired cookie yields a new, unpersisted State.
func (m *Manager) Load(r *http.Request) (*State, error) {
	c, err := r.Cookie(m.cookieName)
	if err != nil {
		return m.newState(false), nil
	}

	id, err := m.verify(c.Value)
	if err != nil {
		m.logger.Debug("session cookie rejected", slogKeyError, err)
		return m.newState(true), nil
	}

	sess, err := m.store.Get(r.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess == nil {
		return m.newState(true), nil
	}
	if sess.State == nil {
		sess.State = make(map[string]any)
	}
	return &State{mgr: m, sess: sess, loaded: true}, nil
}

func (m *Manager) newState(stale bool) *State {
	return &State{
		mgr:   m,
		sess:  &Session{State: make(map[string]any)},
		isNew: true,
		stale: stale,
	}
}

// commit writes the cookie for st into h. It runs once per request, just
// before the response headers are sent.
func (m *Manager) commit(ctx context.Context, h http.Header, st *State) {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case st.isNew:
		if st.destroyed || st.stale {
			m.setCookie(h, "", -1)
		}
	default:
		if st.loaded {
			if err := m.store.Touch(ctx, st.sess.ID); err != nil {
				m.logger.Warn("session touch failed", slogKeySessionID, st.sess.ID, slogKeyError, err)
			}
		}
		value, err := m.sign(st.sess.ID, time.Now())
		if err != nil {
			m.logger.Error("session cookie signing failed", slogKeyError, err)
			return
		}
		m.setCookie(h, value, int(m.ttl.Seconds()))
	}
}

func (m *Manager) setCookie(h http.Header, value string, maxAge int) {
	c := &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     m.path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite,
	}
	if maxAge > 0 {
		c.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	}
	if v := c.String(); v != "" {
		h.Add("Set-Cookie", v)
	}
}

// commitWriter runs the session commit before the first header or body
// write reaches the underlying writer.
type commitWriter struct {
	http.ResponseWriter
	commit    func()
	committed bool
}

func (w *commitWriter) ensureCommitted() {
	if !w.committed {
		w.committed = true
		w.commit()
	}
}

// WriteHeader commits the session cookie before delegating.
func (w *commitWriter) WriteHeader(statusCode int) {
	w.ensureCommitted()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.ensureCommitted()
	n, err := w.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("writing response: %w", err)
	}
	return n, nil
}

// Flush implements http.Flusher.
func (w *commitWriter) Flush() {
	w.ensureCommitted()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
