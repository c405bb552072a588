// Package session provides server-side sessions for the web application.
// It defines the Store interface for session persistence, the Session record,
// and the Manager that resolves a request's session from its cookie.
package session

import (
	"context"
	"maps"
	"time"
)

// Session is a persisted session record.
type Session struct {
	// ID is the opaque session token carried by the client cookie.
	ID string

	// UserID is the serialized principal key. Empty for anonymous sessions.
	UserID string

	// CreatedAt is when the session was first persisted.
	CreatedAt time.Time

	// LastActiveAt is the most recent activity timestamp.
	LastActiveAt time.Time

	// ExpiresAt is when the session expires if not touched.
	ExpiresAt time.Time

	// State holds arbitrary session values.
	State map[string]any
}

// Clone returns a deep-enough copy of s: the State map is copied, its values
// are shared.
func (s *Session) Clone() *Session {
	c := *s
	c.State = make(map[string]any, len(s.State))
	maps.Copy(c.State, s.State)
	return &c
}

// Store defines the interface for session persistence.
type Store interface {
	// Sync ensures the backing schema or connection is ready. It must be
	// called once before the store serves requests.
	Sync(ctx context.Context) error

	// Create persists a new session.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID. Returns nil, nil if not found or expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch updates LastActiveAt and extends ExpiresAt by the store's TTL.
	Touch(ctx context.Context, id string) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// List returns all non-expired sessions.
	List(ctx context.Context) ([]*Session, error)

	// UpdateState merges state into the session's State map.
	UpdateState(ctx context.Context, id string, state map[string]any) error

	// SetUser rebinds the session to userID. An empty userID makes it anonymous.
	SetUser(ctx context.Context, id, userID string) error

	// Cleanup removes expired sessions.
	Cleanup(ctx context.Context) error

	// Close stops background routines and releases resources.
	Close() error
}
