// Package redis provides Redis storage for sessions. Expiry is delegated to
// Redis key TTLs, so Cleanup has nothing to do.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/txn2/graphql-webapp/pkg/session"
)

const (
	defaultPrefix   = "session:"
	defaultScanSize = 100
)

// Config configures the Redis session store.
type Config struct {
	TTL    time.Duration
	Prefix string
}

// Store implements session.Store using Redis.
type Store struct {
	client goredis.UniversalClient
	ttl    time.Duration
	prefix string
}

// record is the JSON document stored under each session key.
type record struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	State        map[string]any `json:"state"`
}

// New creates a new Redis session store.
func New(client goredis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	return &Store{client: client, ttl: cfg.TTL, prefix: cfg.Prefix}
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// Sync verifies the Redis connection.
func (s *Store) Sync(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Create persists a new session with a key TTL matching its expiry.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return errors.New("session: expires_at must be in the future")
	}
	data, err := encode(sess)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID. Returns nil, nil if not found or expired.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	return decode(data)
}

// Touch updates LastActiveAt and extends the key TTL.
func (s *Store) Touch(ctx context.Context, id string) error {
	return s.modify(ctx, id, func(sess *session.Session) time.Duration {
		now := time.Now()
		sess.LastActiveAt = now
		sess.ExpiresAt = now.Add(s.ttl)
		return s.ttl
	})
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// List returns all live sessions under the store prefix.
func (s *Store) List(ctx context.Context) ([]*session.Session, error) {
	var sessions []*session.Session
	iter := s.client.Scan(ctx, 0, s.prefix+"*", defaultScanSize).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading session: %w", err)
		}
		sess, err := decode(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning sessions: %w", err)
	}
	return sessions, nil
}

// UpdateState merges state into the session's State map, keeping its TTL.
func (s *Store) UpdateState(ctx context.Context, id string, state map[string]any) error {
	return s.modify(ctx, id, func(sess *session.Session) time.Duration {
		maps.Copy(sess.State, state)
		return goredis.KeepTTL
	})
}

// SetUser rebinds the session to userID, keeping its TTL.
func (s *Store) SetUser(ctx context.Context, id, userID string) error {
	return s.modify(ctx, id, func(sess *session.Session) time.Duration {
		sess.UserID = userID
		return goredis.KeepTTL
	})
}

// Cleanup is a no-op; Redis expires keys itself.
func (*Store) Cleanup(_ context.Context) error {
	return nil
}

// Close releases the client connection pool.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}

// modify applies fn to the stored session inside an optimistic transaction.
// A missing session is not an error.
func (s *Store) modify(ctx context.Context, id string, fn func(*session.Session) time.Duration) error {
	key := s.key(id)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading session: %w", err)
		}
		sess, err := decode(data)
		if err != nil {
			return err
		}
		ttl := fn(sess)
		out, err := encode(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, out, ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

func encode(sess *session.Session) ([]byte, error) {
	r := record{
		ID:           sess.ID,
		UserID:       sess.UserID,
		CreatedAt:    sess.CreatedAt,
		LastActiveAt: sess.LastActiveAt,
		ExpiresAt:    sess.ExpiresAt,
		State:        sess.State,
	}
	if r.State == nil {
		r.State = map[string]any{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*session.Session, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	if r.State == nil {
		r.State = make(map[string]any)
	}
	return &session.Session{
		ID:           r.ID,
		UserID:       r.UserID,
		CreatedAt:    r.CreatedAt,
		LastActiveAt: r.LastActiveAt,
		ExpiresAt:    r.ExpiresAt,
		State:        r.State,
	}, nil
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
