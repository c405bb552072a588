package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/graphql-webapp/pkg/session"
)

const (
	redisTestID     = "sid-redis"
	redisTestUserID = "user-redis"
	redisTestTTL    = time.Hour
)

func TestEncodeDecode(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	sess := &session.Session{
		ID:           redisTestID,
		UserID:       redisTestUserID,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(redisTestTTL),
		State:        map[string]any{"flash": "saved"},
	}

	data, err := encode(sess)
	require.NoError(t, err)

	got, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.True(t, sess.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, "saved", got.State["flash"])
}

func TestEncode_NilState(t *testing.T) {
	data, err := encode(&session.Session{ID: redisTestID})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":{}`)

	got, err := decode([]byte(`{"id":"x"}`))
	require.NoError(t, err)
	assert.NotNil(t, got.State)
}

func TestDecode_Corrupt(t *testing.T) {
	_, err := decode([]byte("{"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshaling session")
}

func TestNew_Defaults(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer func() { _ = client.Close() }()

	store := New(client, Config{TTL: redisTestTTL})
	assert.Equal(t, "session:"+redisTestID, store.key(redisTestID))
	assert.NoError(t, store.Cleanup(context.Background()))
}

func TestCreate_RejectsPastExpiry(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer func() { _ = client.Close() }()

	store := New(client, Config{TTL: redisTestTTL})
	err := store.Create(context.Background(), &session.Session{
		ID:        redisTestID,
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expires_at")
}
