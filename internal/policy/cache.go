package policy

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoises Resolve(path) behind a bounded LRU, keyed by the raw
// request path, per §4.2. hashicorp/golang-lru is already safe for
// concurrent use internally.
type Cache struct {
	inner *lru.Cache[string, Tag]
}

// DefaultCacheCapacity is the bounded memo size from §4.2.
const DefaultCacheCapacity = 1024

// NewCache builds a resolver cache with the given capacity. A capacity <= 0
// falls back to DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	inner, err := lru.New[string, Tag](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, which can't happen
		// here since capacity is normalized above.
		panic(err)
	}
	return &Cache{inner: inner}
}

// Resolve returns the policy tag for path, resolving and memoising it on a
// cache miss.
func (c *Cache) Resolve(path string) Tag {
	if tag, ok := c.inner.Get(path); ok {
		return tag
	}
	tag := Resolve(path)
	c.inner.Add(path, tag)
	return tag
}

// Len reports the number of memoised paths, for the control API's stats
// and for tests.
func (c *Cache) Len() int {
	return c.inner.Len()
}
