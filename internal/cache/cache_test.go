package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache[string](2, time.Minute)

	c.Set(ctx, "a", "1")
	c.Set(ctx, "b", "2")
	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	// "b" is now least recently used
	c.Set(ctx, "c", "3")
	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Size())

	c.Delete(ctx, "a")
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestLRUCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache[int](10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	now = now.Add(2 * time.Minute)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	m := NewManager(nil)
	m.Register(c)
	assert.Equal(t, 1, m.CleanNow())
	assert.Equal(t, 0, c.Size())
	m.Stop()
}

func TestLRUCacheStats(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache[int](2, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	c.Set(ctx, "a", 10) // update, no eviction
	c.Set(ctx, "c", 3)  // evicts "b"

	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "c")
	assert.False(t, ok)
	assert.Equal(t, 1, c.CleanExpired())

	assert.Equal(t, Stats{Hits: 1, Misses: 2, Evictions: 1, Expired: 2}, c.Stats())
	assert.Equal(t, 0, c.Size())
}

func TestLRUCacheMinimumSize(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache[int](0, time.Minute)

	c.Set(ctx, "a", 1)
	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestManagerStartStop(t *testing.T) {
	m := NewManager(nil)
	m.Register(NewLRUCache[int](1, time.Millisecond))
	m.StartCleanup(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	m.Stop()
}

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := NewRedisCache[entry](client, "kasa:test", time.Minute, nil)

	_, ok := c.Get(ctx, "anna")
	assert.False(t, ok)

	c.Set(ctx, "anna", entry{Name: "anna", Count: 3})
	got, ok := c.Get(ctx, "anna")
	require.True(t, ok)
	assert.Equal(t, entry{Name: "anna", Count: 3}, got)
	assert.True(t, mr.Exists("kasa:test:anna"))
	assert.Equal(t, time.Minute, mr.TTL("kasa:test:anna"))

	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "anna")
	assert.False(t, ok)

	c.Set(ctx, "bruno", entry{Name: "bruno"})
	c.Delete(ctx, "bruno")
	_, ok = c.Get(ctx, "bruno")
	assert.False(t, ok)
}

func TestRedisCacheDropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := NewRedisCache[entry](client, "kasa", time.Minute, nil)

	require.NoError(t, mr.Set("kasa:anna", "{not json"))
	_, ok := c.Get(ctx, "anna")
	assert.False(t, ok)
	assert.False(t, mr.Exists("kasa:anna"))
}

func TestRedisCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := NewRedisCache[entry](client, "kasa", time.Minute, nil)
	mr.Close()

	c.Set(ctx, "anna", entry{Name: "anna"})
	_, ok := c.Get(ctx, "anna")
	assert.False(t, ok, "backend failures degrade to misses")
}

func TestNewRedisClientErrors(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not-a-url")
	assert.Error(t, err)
}
