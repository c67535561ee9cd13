package policy

import (
	"fmt"
	"time"
)

// Definition is an immutable bundle of rate-limit and escalation parameters
// applied to a class of routes. Zero value is never valid; construct via
// the Definitions table or Validate a loaded one before use.
type Definition struct {
	Requests             int
	Window               time.Duration
	EscalateAfter        int
	EscalationScope      Scope
	FingerprintRequired  bool
	GlobalBlock          bool
}

// Validate enforces the compiled-in caps from §3. Out-of-range values are
// rejected, not clamped, whether they come from the built-in table (already
// within bounds) or from a config file override.
func (d Definition) Validate() error {
	if d.Requests <= 0 {
		return fmt.Errorf("policy: requests must be positive, got %d", d.Requests)
	}
	if d.Requests > MaxRateLimit {
		return fmt.Errorf("policy: requests %d exceeds MAX_RATE_LIMIT %d", d.Requests, MaxRateLimit)
	}
	if d.Window <= 0 {
		return fmt.Errorf("policy: window must be positive, got %s", d.Window)
	}
	if d.Window > MaxWindowSeconds*time.Second {
		return fmt.Errorf("policy: window %s exceeds MAX_WINDOW_SECONDS %d", d.Window, MaxWindowSeconds)
	}
	if d.EscalateAfter < 0 {
		return fmt.Errorf("policy: escalate_after must be non-negative, got %d", d.EscalateAfter)
	}
	if d.EscalateAfter > MaxEscalationCount {
		return fmt.Errorf("policy: escalate_after %d exceeds MAX_ESCALATION_COUNT %d", d.EscalateAfter, MaxEscalationCount)
	}
	switch d.EscalationScope {
	case ScopeRoute, ScopeIP, ScopeIPFingerprint, ScopeGlobal:
	default:
		return fmt.Errorf("policy: unknown escalation_scope %q", d.EscalationScope)
	}
	return nil
}

// Definitions is the built-in policy table, carried over from the system's
// original Python source (security/policies/definitions.py) unchanged in
// meaning.
var Definitions = map[Tag]Definition{
	PUBLIC: {
		Requests:            120,
		Window:              time.Minute,
		EscalateAfter:       10,
		EscalationScope:     ScopeRoute,
		FingerprintRequired: false,
		GlobalBlock:         false,
	},
	AUTH: {
		Requests:            30,
		Window:              time.Minute,
		EscalateAfter:       5,
		EscalationScope:     ScopeIP,
		FingerprintRequired: false,
		GlobalBlock:         true,
	},
	REGISTRATION: {
		Requests:            5,
		Window:              30 * time.Minute,
		EscalateAfter:       10,
		EscalationScope:     ScopeIPFingerprint,
		FingerprintRequired: true,
		GlobalBlock:         true,
	},
	OTP: {
		Requests:            5,
		Window:              10 * time.Minute,
		EscalateAfter:       2,
		EscalationScope:     ScopeIPFingerprint,
		FingerprintRequired: true,
		GlobalBlock:         false,
	},
	USER: {
		Requests:            120,
		Window:              time.Minute,
		EscalateAfter:       10,
		EscalationScope:     ScopeRoute,
		FingerprintRequired: false,
		GlobalBlock:         false,
	},
	ADMIN: {
		Requests:            20,
		Window:              time.Minute,
		EscalateAfter:       3,
		EscalationScope:     ScopeIP,
		FingerprintRequired: true,
		GlobalBlock:         true,
	},
	INTERNAL: {
		Requests:            1000,
		Window:              time.Minute,
		EscalateAfter:       0,
		EscalationScope:     ScopeIPFingerprint,
		FingerprintRequired: false,
		GlobalBlock:         false,
	},
}

// ValidateTable validates every definition in a table, returning the first
// error encountered. Called once at startup; a failure is fatal (§7).
func ValidateTable(table map[Tag]Definition) error {
	for tag, def := range table {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("policy %s: %w", tag, err)
		}
	}
	return nil
}
