// Package users provides the user model, credential checks and the session
// strategy that restores users from their stored id.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmailTaken is returned when creating a user whose email is in use.
	ErrEmailTaken = errors.New("users: email already registered")

	// ErrInvalidCredentials is returned when an email and password do not match.
	ErrInvalidCredentials = errors.New("users: invalid credentials")

	// ErrInvalidInput is returned when a required field is missing.
	ErrInvalidInput = errors.New("users: email and password are required")
)

// User is a registered account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// PrincipalID implements auth.Principal.
func (u *User) PrincipalID() string {
	return u.ID.String()
}

// Repository persists users. Find methods return nil, nil when no user matches.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
	List(ctx context.Context) ([]*User, error)
}

// NormalizeEmail lower-cases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
