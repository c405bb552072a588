package platform

import (
	"context"
	"database/sql"
	"log/slog"
	"net"

	"github.com/txn2/graphql-webapp/pkg/session"
	"github.com/txn2/graphql-webapp/pkg/users"
)

// DatabaseSyncFunc brings the database schema up to date.
type DatabaseSyncFunc func(ctx context.Context, db *sql.DB) error

// Options configures the platform.
type Options struct {
	// Config is the application configuration.
	Config *Config

	// DB connection (optional, opened from config if not provided).
	DB *sql.DB

	// SessionStore (optional, created from config if not provided).
	SessionStore session.Store

	// UserRepository (optional, postgres when a database is configured,
	// in-memory otherwise).
	UserRepository users.Repository

	// DatabaseSync (optional, defaults to running embedded migrations).
	DatabaseSync DatabaseSyncFunc

	// Listener (optional, bound from Server.Address if not provided).
	Listener net.Listener

	// Logger (optional, defaults to slog.Default()).
	Logger *slog.Logger

	// Observers receive every state transition.
	Observers []StepObserver
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithDB sets the database connection. The caller keeps ownership.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithSessionStore sets the session store.
func WithSessionStore(store session.Store) Option {
	return func(o *Options) {
		o.SessionStore = store
	}
}

// WithUserRepository sets the user repository.
func WithUserRepository(repo users.Repository) Option {
	return func(o *Options) {
		o.UserRepository = repo
	}
}

// WithDatabaseSync replaces the database sync step.
func WithDatabaseSync(fn DatabaseSyncFunc) Option {
	return func(o *Options) {
		o.DatabaseSync = fn
	}
}

// WithListener serves on ln instead of binding Server.Address.
func WithListener(ln net.Listener) Option {
	return func(o *Options) {
		o.Listener = ln
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithStepObserver registers an observer of state transitions.
func WithStepObserver(obs StepObserver) Option {
	return func(o *Options) {
		o.Observers = append(o.Observers, obs)
	}
}
