package blacklist

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheSize and DefaultIdleTTL are the bounds from spec.md §4.6: up
// to 50,000 entries, evicted after 24h of not being probed.
const (
	DefaultCacheSize = 50_000
	DefaultIdleTTL   = 24 * time.Hour
)

// Cache is the in-memory authority for active blocks. It never performs
// I/O; durable persistence is a separate, asynchronous concern (writer.go).
type Cache struct {
	lru *expirable.LRU[CacheKey, cacheValue]
	now func() time.Time
}

// NewCache builds a Cache with the given size/idle-TTL bounds. size <= 0 or
// idleTTL <= 0 fall back to the defaults above.
func NewCache(size int, idleTTL time.Duration) *Cache {
	return newCacheWithClock(size, idleTTL, time.Now)
}

func newCacheWithClock(size int, idleTTL time.Duration, now func() time.Time) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Cache{
		lru: expirable.NewLRU[CacheKey, cacheValue](size, nil, idleTTL),
		now: now,
	}
}

// Block inserts entry into the cache, keyed by (ip, fingerprint-or-"*").
// Synchronous: the caller's next IsBlocked call observes it immediately.
func (c *Cache) Block(entry Entry) {
	key := keyFor(entry.IP, entry.FingerprintHash)
	c.lru.Add(key, cacheValue{
		reason:      entry.Reason,
		isPermanent: entry.IsPermanent,
		expiresAt:   entry.ExpiresAt,
	})
}

// IsBlocked implements the dual-probe lookup from §4.6: exact (ip,
// fingerprint) first, then the wildcard (ip, "*"). Do not reverse this
// order — an IP-only block must shadow every fingerprint seen from that IP
// (spec.md §9).
func (c *Cache) IsBlocked(ip, fingerprint string) (bool, string) {
	exact := keyFor(ip, fingerprint)
	if blocked, reason, ok := c.probe(exact); ok {
		return blocked, reason
	}

	if exact.Fingerprint != wildcardFingerprint {
		wildcard := keyFor(ip, "")
		if blocked, reason, ok := c.probe(wildcard); ok {
			return blocked, reason
		}
	}

	return false, ""
}

// probe checks a single key. The bool result reports whether the key was
// present at all (a miss here means the caller should try the next probe,
// not that the client is unblocked).
func (c *Cache) probe(key CacheKey) (blocked bool, reason string, present bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return false, "", false
	}

	// A hit re-adds the entry: the LRU's TTL counts from the last Add, and
	// re-adding is what makes it an idle TTL.
	if v.isPermanent {
		c.lru.Add(key, v)
		return true, v.reason, true
	}

	if v.expiresAt != nil && v.expiresAt.After(c.now()) {
		c.lru.Add(key, v)
		return true, v.reason, true
	}

	// Expired: evict on probe, per §4.6 step 5.
	c.lru.Remove(key)
	return false, "", true
}

// Len reports the number of cached entries. Diagnostics/tests only.
func (c *Cache) Len() int {
	return c.lru.Len()
}
