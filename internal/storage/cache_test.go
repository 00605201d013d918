package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCacheEviction(t *testing.T) {
	cache := NewLRUCache(2, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3) // evicts "a"

	_, found := cache.Get("a")
	assert.False(t, found)

	v, found := cache.Get("b")
	assert.True(t, found)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, cache.Len())
}

func TestLRUCacheRecencyOrder(t *testing.T) {
	cache := NewLRUCache(2, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Get("a")    // "a" is now most recent
	cache.Set("c", 3) // evicts "b"

	_, found := cache.Get("b")
	assert.False(t, found)
	_, found = cache.Get("a")
	assert.True(t, found)
}

func TestLRUCacheTTL(t *testing.T) {
	cache := NewLRUCache(10, 20*time.Millisecond)

	cache.Set("a", 1)
	time.Sleep(40 * time.Millisecond)

	_, found := cache.Get("a")
	assert.False(t, found)

	cache.Set("b", 2)
	cache.Set("c", 3)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 2, cache.CleanupExpired())
	assert.Equal(t, 0, cache.Len())
}

func TestLRUCacheDeleteAndStats(t *testing.T) {
	cache := NewLRUCache(5, time.Minute)

	cache.Set("a", 1)
	cache.Delete("a")
	_, found := cache.Get("a")
	assert.False(t, found)

	cache.Set("b", 2)
	stats := cache.Stats()
	assert.Equal(t, 5, stats.Capacity)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, time.Minute, stats.TTL)
}
