// Package boundedcache is the fixed-capacity recency-evicted cache
// backing the "modified" (≤1000 entries) and "tree_sha" (≤500 entries)
// caches spec.md §3 calls for, wrapping hashicorp/golang-lru/v2 the way
// the teacher wraps it in backend/cache for its directory-entry cache
// ("cache.New[string, *Directory](maxEntries)").
package boundedcache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a fixed-size, least-recently-used-evicted cache.
type Cache[K comparable, V any] struct {
	c *lru.Cache[K, V]
}

// New builds a Cache holding at most size entries, evicting the least
// recently used once full.
func New[K comparable, V any](size int) *Cache[K, V] {
	c, _ := lru.New[K, V](size)
	return &Cache[K, V]{c: c}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.c.Get(key)
}

func (c *Cache[K, V]) Add(key K, value V) {
	c.c.Add(key, value)
}

func (c *Cache[K, V]) Remove(key K) {
	c.c.Remove(key)
}

func (c *Cache[K, V]) Len() int {
	return c.c.Len()
}

func (c *Cache[K, V]) Purge() {
	c.c.Purge()
}
