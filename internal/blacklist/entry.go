// Package blacklist is the in-memory, write-through authority for active
// blocks (spec.md §4.6). It owns the cache exclusively: writers hand off a
// fully-populated BlockEntry and never retain aliases to it afterward.
package blacklist

import (
	"time"

	"github.com/google/uuid"
)

// CerberusPolicy and CerberusReason are the defaults used by
// PromotePermanentBlock, carried from the system's original Python source
// (security/firewall/blacklist.py's promote_permanent_block).
const (
	CerberusPolicy = "CERBERUS"
	CerberusReason = "Cerberus autonomous termination"
)

// wildcardFingerprint is the fingerprint sentinel an IP-only block is
// stored under; it shadows every fingerprint seen from that IP.
const wildcardFingerprint = "*"

// CacheKey is the pair a block is looked up by: an IP and either a specific
// fingerprint or the wildcard.
type CacheKey struct {
	IP          string
	Fingerprint string
}

func keyFor(ip, fingerprint string) CacheKey {
	if fingerprint == "" {
		fingerprint = wildcardFingerprint
	}
	return CacheKey{IP: ip, Fingerprint: fingerprint}
}

// Entry is a persisted block record (spec.md §3's BlockEntry).
type Entry struct {
	ID              uuid.UUID
	IP              string
	FingerprintHash string // optional; empty means IP-wide
	Route           string // optional
	PolicyName      string
	Scope           string
	Reason          string
	IsPermanent     bool
	IsActive        bool
	ExpiresAt       *time.Time // UTC; nil when IsPermanent
	CreatedAt       time.Time  // UTC
}

// cacheValue is the subset of an Entry the cache actually needs to answer
// IsBlocked; kept separate from Entry so the cache never has to reason
// about fields (Route, PolicyName, ID, CreatedAt...) it doesn't use.
type cacheValue struct {
	reason      string
	isPermanent bool
	expiresAt   *time.Time
}

// NewEntry builds a fully-populated Entry, generating its ID and stamping
// CreatedAt. expiresAt must be nil when isPermanent is true, and must be
// strictly after now otherwise (spec.md §3 invariant).
func NewEntry(ip, fingerprintHash, route, policyName, scope, reason string, isPermanent bool, expiresAt *time.Time, now time.Time) Entry {
	return Entry{
		ID:              uuid.New(),
		IP:              ip,
		FingerprintHash: fingerprintHash,
		Route:           route,
		PolicyName:      policyName,
		Scope:           scope,
		Reason:          reason,
		IsPermanent:     isPermanent,
		IsActive:        true,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
	}
}
