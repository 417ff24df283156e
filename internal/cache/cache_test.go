package cache

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/audiohardshelf/internal/logger"
)

func newTestCache[K comparable, V any](now *time.Time) Cache[K, V] {
	c := NewMemoryCache[K, V](logger.New(logger.Config{Level: "error", Output: io.Discard})).(*memoryCache[K, V])
	if now != nil {
		c.now = func() time.Time { return *now }
	}
	return c
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := newTestCache[string, int](nil)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1, 0)
	c.Set("b", 2, time.Hour)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestCache[string, string](&now)

	c.Set("isbn:123", "book", time.Minute)
	c.Set("forever", "x", 0)

	now = now.Add(30 * time.Second)
	_, ok := c.Get("isbn:123")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get("isbn:123")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "expired entry is evicted on read")

	_, ok = c.Get("forever")
	assert.True(t, ok)
}

func TestMemoryCache_DeleteClear(t *testing.T) {
	c := newTestCache[int, string](nil)
	c.Set(1, "one", 0)
	c.Set(2, "two", 0)

	c.Delete(1)
	_, ok := c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestWithTTL(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := WithTTL(newTestCache[string, int](&now), time.Second)

	c.Set("k", 7, time.Hour)
	now = now.Add(2 * time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok, "wrapper ttl overrides the per-call ttl")
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := newTestCache[int, int](nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set(i, i*i, time.Minute)
			v, ok := c.Get(i)
			assert.True(t, ok)
			assert.Equal(t, i*i, v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, c.Len())
}
