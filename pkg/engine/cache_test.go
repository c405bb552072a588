package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cacheTestStore = "test-store"

func TestCache_SetGet(t *testing.T) {
	c, err := NewCache(cacheTestStore, 1024)
	require.NoError(t, err)

	assert.True(t, c.Set("q1", []byte(`{"data":{}}`), 0))
	got, ok := c.Get("q1")
	require.True(t, ok)
	assert.JSONEq(t, `{"data":{}}`, string(got))
	assert.Equal(t, cacheTestStore, c.Name())

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_ByteBoundEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewCache(cacheTestStore, 10)
	require.NoError(t, err)

	require.True(t, c.Set("a", []byte("aaaa"), 0))
	require.True(t, c.Set("b", []byte("bbbb"), 0))
	_, _ = c.Get("a") // a is now most recently used
	require.True(t, c.Set("c", []byte("cccc"), 0))

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB, "least recently used entry should be evicted")
	assert.True(t, okC)
	assert.Equal(t, int64(8), c.Bytes())
}

func TestCache_OversizedAndEmptyValuesRejected(t *testing.T) {
	c, err := NewCache(cacheTestStore, 4)
	require.NoError(t, err)

	assert.False(t, c.Set("big", []byte("12345"), 0))
	assert.False(t, c.Set("empty", nil, 0))
	assert.Equal(t, 0, c.Len())
}

func TestCache_ReplaceAdjustsBytes(t *testing.T) {
	c, err := NewCache(cacheTestStore, 100)
	require.NoError(t, err)

	c.Set("k", []byte("0123456789"), 0)
	c.Set("k", []byte("01"), 0)
	assert.Equal(t, int64(2), c.Bytes())
	assert.Equal(t, 1, c.Len())
}

func TestCache_Expiry(t *testing.T) {
	c, err := NewCache(cacheTestStore, 100)
	require.NoError(t, err)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", []byte("v"), time.Minute)
	_, ok := c.Get("k")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is removed on read")
}
