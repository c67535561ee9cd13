// Package ratelimit implements the per-identity rolling-window counter
// described in spec.md §4.3: a FIFO of hit timestamps per key, sharded by
// key hash so that mutation of one key only serializes against keys that
// hash to the same shard.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

// shardCount is the number of independent lock domains. Picked as a
// middling power of two; raising it trades memory for less contention
// under adversarial key cardinality, per spec.md §9.
const shardCount = 64

// bucket is a single identity's rolling-window hit log.
type bucket struct {
	hits []time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Limiter is a sharded, in-memory rolling-window rate limiter. It is
// process-local by design (spec.md Non-goals) and never blocks on I/O.
type Limiter struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// New creates a Limiter with the real wall clock.
func New() *Limiter {
	return newWithClock(time.Now)
}

// newWithClock is used by tests to control time deterministically.
func newWithClock(now func() time.Time) *Limiter {
	l := &Limiter{now: now}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// Hit applies the rolling-window algorithm from §4.3 to key:
//  1. Drop all timestamps <= now-window.
//  2. If the remaining count >= limit, deny (do not append).
//  3. Otherwise append now and allow.
//
// Within a single key, the decision is linearizable; across keys there is
// no ordering guarantee.
func (l *Limiter) Hit(key string, limit int, window time.Duration) bool {
	s := l.shardFor(key)
	now := l.now()
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{}
		s.buckets[key] = b
	}

	b.hits = pruneBefore(b.hits, cutoff)

	if len(b.hits) >= limit {
		return false
	}

	b.hits = append(b.hits, now)
	return true
}

// pruneBefore drops the leading run of timestamps <= cutoff. Timestamps are
// appended in increasing order, so the expired run is always a prefix.
func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

// Sweep evicts buckets whose most recent hit predates olderThan, bounding
// memory under adversarial key cardinality (spec.md §9). Intended to run
// from a low-frequency background goroutine, not the request path.
func (l *Limiter) Sweep(olderThan time.Duration) int {
	cutoff := l.now().Add(-olderThan)
	evicted := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			if len(b.hits) == 0 || b.hits[len(b.hits)-1].Before(cutoff) {
				delete(s.buckets, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}
