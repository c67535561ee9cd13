// Package policy holds the immutable, process-lifetime policy model: the
// closed set of policy tags, their rate-limit/escalation parameters, the
// domain map that assigns routes to policies, and the memoised resolver.
package policy

// Tag identifies a named policy from the closed set the firewall understands.
type Tag string

const (
	PUBLIC       Tag = "PUBLIC"
	AUTH         Tag = "AUTH"
	REGISTRATION Tag = "REGISTRATION"
	OTP          Tag = "OTP"
	USER         Tag = "USER"
	ADMIN        Tag = "ADMIN"
	INTERNAL     Tag = "INTERNAL"
)

// Scope is the dimension along which requests are aggregated for limiting
// and escalation.
type Scope string

const (
	ScopeRoute         Scope = "ROUTE"
	ScopeIP            Scope = "IP"
	ScopeIPFingerprint Scope = "IP_FINGERPRINT"
	ScopeGlobal        Scope = "GLOBAL"
)

// Compiled-in safety caps. A policy that exceeds one of these, including one
// set by a config file override, fails Definition.Validate.
const (
	MaxRateLimit       = 5000
	MaxWindowSeconds   = 3600
	MaxEscalationCount = 100
)
