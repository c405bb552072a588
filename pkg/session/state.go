package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type contextKey struct{}

// WithState returns a context carrying st.
func WithState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, contextKey{}, st)
}

// FromContext returns the request's session state, or nil outside the
// session middleware.
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(contextKey{}).(*State)
	return st
}

// State is the per-request view of a session. Changes are written to the
// store as they are made; the cookie is written when the response starts.
//
// Values round-trip through the store's encoding, so a value read on a
// later request may have a different Go type than the one stored (numbers
// from JSON-backed stores come back as float64).
type State struct {
	mu  sync.Mutex
	mgr *Manager

	sess      *Session
	isNew     bool
	loaded    bool
	stale     bool
	destroyed bool
}

// ID returns the session id, or "" when the session has not been persisted.
func (s *State) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.ID
}

// UserID returns the serialized principal key stored in the session.
func (s *State) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.UserID
}

// IsNew reports whether the session has not been persisted yet.
func (s *State) IsNew() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isNew
}

// Get returns a session value.
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sess.State[key]
	return v, ok
}

// Set stores a value, persisting the session if it is new.
func (s *State) Set(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isNew {
		s.sess.State[key] = value
		return s.persistLocked(ctx, s.sess.UserID)
	}
	if err := s.mgr.store.UpdateState(ctx, s.sess.ID, map[string]any{key: value}); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	s.sess.State[key] = value
	return nil
}

// SetUserID rebinds the current session to userID without regenerating it.
// Use Regenerate when a user logs in.
func (s *State) SetUserID(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isNew {
		if err := s.mgr.store.SetUser(ctx, s.sess.ID, userID); err != nil {
			return fmt.Errorf("updating session user: %w", err)
		}
	}
	s.sess.UserID = userID
	return nil
}

// Regenerate replaces the session with a new one bound to userID. The old
// session is removed from the store and its values are discarded.
func (s *State) Regenerate(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isNew {
		if err := s.mgr.store.Delete(ctx, s.sess.ID); err != nil {
			return fmt.Errorf("removing previous session: %w", err)
		}
	}
	s.sess = &Session{State: make(map[string]any)}
	return s.persistLocked(ctx, userID)
}

// Destroy removes the session from the store and clears the cookie. A later
// Set starts a new session.
func (s *State) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isNew {
		if err := s.mgr.store.Delete(ctx, s.sess.ID); err != nil {
			return fmt.Errorf("destroying session: %w", err)
		}
	}
	s.sess = &Session{State: make(map[string]any)}
	s.isNew = true
	s.loaded = false
	s.destroyed = true
	return nil
}

func (s *State) persistLocked(ctx context.Context, userID string) error {
	id, err := GenerateID()
	if err != nil {
		return err
	}
	now := time.Now()
	next := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(s.mgr.ttl),
		State:        s.sess.State,
	}
	if err := s.mgr.store.Create(ctx, next); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	s.sess = next
	s.isNew = false
	s.loaded = false
	s.destroyed = false
	return nil
}
