package users

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository in memory. It backs the application
// when no database is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*User
	byEmail map[string]uuid.UUID
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[uuid.UUID]*User),
		byEmail: make(map[string]uuid.UUID),
	}
}

// FindByID returns the user with id, or nil, nil.
func (m *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, nil //nolint:nilnil // Repository interface specifies nil,nil for not-found
	}
	c := *u
	return &c, nil
}

// FindByEmail returns the user with email, or nil, nil.
func (m *MemoryRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil //nolint:nilnil // Repository interface specifies nil,nil for not-found
	}
	return m.FindByID(ctx, id)
}

// Create stores u.
func (m *MemoryRepository) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := NormalizeEmail(u.Email)
	if _, taken := m.byEmail[email]; taken {
		return ErrEmailTaken
	}
	c := *u
	c.Email = email
	m.byID[u.ID] = &c
	m.byEmail[email] = u.ID
	return nil
}

// List returns all users ordered by email.
func (m *MemoryRepository) List(_ context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*User, 0, len(m.byID))
	for _, u := range m.byID {
		c := *u
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *User) int {
		return strings.Compare(a.Email, b.Email)
	})
	return out, nil
}

// Verify interface compliance.
var _ Repository = (*MemoryRepository)(nil)
