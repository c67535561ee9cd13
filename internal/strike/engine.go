// Package strike implements the second-order breach counter from spec.md
// §4.4: it measures how often an identity breaches the rate limiter, not
// how often it makes requests. Sharded the same way as internal/ratelimit
// so the two stay independent locking domains (spec.md §5).
package strike

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 64

type record struct {
	count     int
	firstSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	records map[string]*record
}

// Engine tracks (count, first_seen) per identity key.
type Engine struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// New creates an Engine using the real wall clock.
func New() *Engine {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Engine {
	e := &Engine{now: now}
	for i := range e.shards {
		e.shards[i] = &shard{records: make(map[string]*record)}
	}
	return e
}

func (e *Engine) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return e.shards[h.Sum32()%shardCount]
}

// Register records a strike for identityKey and reports whether the
// escalation threshold has been reached, per §4.4:
//
//   - missing record: create with count=0, first_seen=now
//   - now-first_seen > window: reset count=0, first_seen=now
//   - increment count
//   - count >= threshold: delete the record atomically and return true
//   - else return false
//
// threshold == 0 disables promotion entirely (always returns false).
func (e *Engine) Register(identityKey string, window time.Duration, threshold int) bool {
	if threshold <= 0 {
		return false
	}

	s := e.shardFor(identityKey)
	now := e.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[identityKey]
	if !ok {
		r = &record{count: 0, firstSeen: now}
		s.records[identityKey] = r
	} else if now.Sub(r.firstSeen) > window {
		r.count = 0
		r.firstSeen = now
	}

	r.count++

	if r.count >= threshold {
		delete(s.records, identityKey)
		return true
	}

	return false
}

// Count returns the current strike count for identityKey, for diagnostics
// and tests. Returns 0 if no record exists.
func (e *Engine) Count(identityKey string) int {
	s := e.shardFor(identityKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[identityKey]; ok {
		return r.count
	}
	return 0
}

// Sweep evicts strike records whose window has long since expired, bounding
// memory under adversarial key cardinality (spec.md §9).
func (e *Engine) Sweep(olderThan time.Duration) int {
	cutoff := e.now().Add(-olderThan)
	evicted := 0
	for _, s := range e.shards {
		s.mu.Lock()
		for key, r := range s.records {
			if r.firstSeen.Before(cutoff) {
				delete(s.records, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}
