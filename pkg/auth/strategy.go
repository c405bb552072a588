package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/txn2/graphql-webapp/pkg/session"
)

var (
	// ErrPrincipalNotFound signals that the stored principal no longer exists.
	// The middleware clears the session's user id when it sees this error.
	ErrPrincipalNotFound = errors.New("auth: principal not found")

	// ErrEmptyPrincipalID is returned by SerializeID for a principal without an id.
	ErrEmptyPrincipalID = errors.New("auth: principal has an empty id")

	// ErrNoSession is returned by Login and Logout outside the session middleware.
	ErrNoSession = errors.New("auth: no session in request context")

	errNilSerialize   = errors.New("auth: strategy has no Serialize function")
	errNilDeserialize = errors.New("auth: strategy has no Deserialize function")
)

// Result is the outcome of resolving a stored principal key.
type Result struct {
	principal Principal
	err       error
}

// Resolved returns a successful Result. A nil principal is reported as
// ErrPrincipalNotFound.
func Resolved(p Principal) Result {
	if p == nil {
		return Result{err: ErrPrincipalNotFound}
	}
	return Result{principal: p}
}

// Failed returns a failed Result.
func Failed(err error) Result {
	if err == nil {
		err = ErrPrincipalNotFound
	}
	return Result{err: err}
}

// Principal returns the resolved principal or the resolution error.
func (r Result) Principal() (Principal, error) {
	if r.principal == nil && r.err == nil {
		return nil, ErrPrincipalNotFound
	}
	return r.principal, r.err
}

// SerializeFunc maps a principal to the key stored in its session.
type SerializeFunc func(Principal) (string, error)

// DeserializeFunc maps a stored key back to a principal.
type DeserializeFunc func(ctx context.Context, id string) Result

// Strategy is the pair of functions used to store and restore principals.
type Strategy struct {
	Serialize   SerializeFunc
	Deserialize DeserializeFunc
}

// Validate reports whether both functions are set.
func (s Strategy) Validate() error {
	if s.Serialize == nil {
		return errNilSerialize
	}
	if s.Deserialize == nil {
		return errNilDeserialize
	}
	return nil
}

// SerializeID stores the principal's own id.
func SerializeID(p Principal) (string, error) {
	if p == nil || p.PrincipalID() == "" {
		return "", ErrEmptyPrincipalID
	}
	return p.PrincipalID(), nil
}

// Login binds p to the request's session under a freshly generated session id.
func Login(ctx context.Context, strategy Strategy, p Principal) error {
	st := session.FromContext(ctx)
	if st == nil {
		return ErrNoSession
	}
	id, err := strategy.Serialize(p)
	if err != nil {
		return fmt.Errorf("serializing principal: %w", err)
	}
	if err := st.Regenerate(ctx, id); err != nil {
		return fmt.Errorf("establishing session: %w", err)
	}
	return nil
}

// Logout destroys the request's session.
func Logout(ctx context.Context) error {
	st := session.FromContext(ctx)
	if st == nil {
		return ErrNoSession
	}
	return st.Destroy(ctx)
}
