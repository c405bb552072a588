// Package postgres provides PostgreSQL storage for users.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/txn2/graphql-webapp/pkg/users"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

var userColumns = []string{
	"id", "email", "name", "password_hash", "created_at", "updated_at",
}

// Store implements users.Repository using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL user store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindByID returns the user with id, or nil, nil.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*users.User, error) {
	return s.findOne(ctx, sq.Eq{"id": id})
}

// FindByEmail returns the user with email, or nil, nil.
func (s *Store) FindByEmail(ctx context.Context, email string) (*users.User, error) {
	return s.findOne(ctx, sq.Eq{"lower(email)": users.NormalizeEmail(email)})
}

func (s *Store) findOne(ctx context.Context, pred sq.Eq) (*users.User, error) {
	query, args, err := psq.Select(userColumns...).From("users").Where(pred).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}

	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Repository interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create inserts u. A duplicate email yields users.ErrEmailTaken.
func (s *Store) Create(ctx context.Context, u *users.User) error {
	query, args, err := psq.Insert("users").
		Columns(userColumns...).
		Values(u.ID, users.NormalizeEmail(u.Email), u.Name, u.PasswordHash, u.CreatedAt, u.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building user insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return users.ErrEmailTaken
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// List returns all users ordered by email.
func (s *Store) List(ctx context.Context) ([]*users.User, error) {
	query, args, err := psq.Select(userColumns...).From("users").OrderBy("email").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*users.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*users.User, error) {
	var u users.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

// Verify interface compliance.
var _ users.Repository = (*Store)(nil)
