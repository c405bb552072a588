package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/txn2/graphql-webapp/pkg/auth"
)

// Service implements signup, credential checks and principal resolution on
// top of a Repository.
type Service struct {
	repo Repository
	cost int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBcryptCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		s.cost = cost
	}
}

// NewService creates a Service.
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repository returns the backing repository.
func (s *Service) Repository() Repository {
	return s.repo
}

// Register creates a user with a hashed password.
func (s *Service) Register(ctx context.Context, email, name, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("checking email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	u := &User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate returns the user matching email and password, or
// ErrInvalidCredentials. Unknown emails and wrong passwords are not
// distinguished.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("comparing password: %w", err)
	}
	return u, nil
}

// Strategy returns the auth strategy that stores a user's id in the session
// and loads the user back by id.
func (s *Service) Strategy() auth.Strategy {
	return auth.Strategy{
		Serialize:   auth.SerializeID,
		Deserialize: s.deserialize,
	}
}

func (s *Service) deserialize(ctx context.Context, id string) auth.Result {
	uid, err := uuid.Parse(id)
	if err != nil {
		return auth.Failed(fmt.Errorf("%w: malformed id %q", auth.ErrPrincipalNotFound, id))
	}
	u, err := s.repo.FindByID(ctx, uid)
	if err != nil {
		return auth.Failed(fmt.Errorf("loading user: %w", err))
	}
	if u == nil {
		return auth.Failed(auth.ErrPrincipalNotFound)
	}
	return auth.Resolved(u)
}

// UserFromPrincipal returns the *User behind p, or nil.
func UserFromPrincipal(p auth.Principal) *User {
	u, _ := p.(*User)
	return u
}
