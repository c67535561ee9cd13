// Package escalation implements the escalation coordinator from spec.md
// §4.5: it builds a scope-specific identity key, registers a strike, and
// on promotion writes a BlockEntry through the blacklist writer.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/forkit/firewall/internal/blacklist"
	"github.com/forkit/firewall/internal/strike"
)

// Coordinator ties the strike engine to the blacklist writer.
type Coordinator struct {
	strikes *strike.Engine
	writer  *blacklist.Writer
	now     func() time.Time
}

// New builds a Coordinator over the given strike engine and blacklist
// writer.
func New(strikes *strike.Engine, writer *blacklist.Writer) *Coordinator {
	return &Coordinator{strikes: strikes, writer: writer, now: time.Now}
}

// IdentityKey builds the strike identity key for scope, per the table in
// spec.md §4.5. An unknown scope is treated as IP.
func IdentityKey(scope, ip, path, fingerprint string) string {
	switch scope {
	case "ROUTE":
		return fmt.Sprintf("ROUTE:%s:%s", path, ip)
	case "IP":
		return fmt.Sprintf("IP:%s", ip)
	case "IP_FINGERPRINT":
		fp := fingerprint
		if fp == "" {
			fp = "no-fp"
		}
		return fmt.Sprintf("IP_FP:%s:%s", ip, fp)
	case "GLOBAL":
		return fmt.Sprintf("GLOBAL:%s", ip)
	default:
		return fmt.Sprintf("IP:%s", ip)
	}
}

// Params bundles the inputs EscalateIfNeeded needs, mirroring spec.md
// §4.5's escalate_if_needed(...) signature.
type Params struct {
	IP                  string
	PolicyName          string
	Scope               string
	Window              time.Duration
	Threshold           int
	Path                string
	Fingerprint         string
	PromoteToPermanent  bool
}

// Result is what the pipeline needs to decide its HTTP response.
type Result struct {
	Promoted bool
	Reason   string
}

// EscalateIfNeeded registers a strike for the identity derived from
// p.Scope and, if the strike engine reports promotion, installs a block:
// permanent when p.PromoteToPermanent or p.Scope == GLOBAL, otherwise
// temporary with ExpiresAt = now + p.Window.
func (c *Coordinator) EscalateIfNeeded(ctx context.Context, p Params) Result {
	key := IdentityKey(p.Scope, p.IP, p.Path, p.Fingerprint)

	promoted := c.strikes.Register(key, p.Window, p.Threshold)
	if !promoted {
		return Result{}
	}

	reason := fmt.Sprintf("Policy %q triggered escalation at scope %q.", p.PolicyName, p.Scope)

	if p.PromoteToPermanent || p.Scope == "GLOBAL" {
		c.writer.AddBlock(ctx, blacklist.AddBlockParams{
			IP:              p.IP,
			PolicyName:      p.PolicyName,
			Scope:           p.Scope,
			Reason:          reason,
			FingerprintHash: p.Fingerprint,
			Route:           p.Path,
			IsPermanent:     true,
		})
		return Result{
			Promoted: true,
			Reason:   fmt.Sprintf("Permanent block applied by policy %q.", p.PolicyName),
		}
	}

	expiresAt := c.now().UTC().Add(p.Window)
	c.writer.AddBlock(ctx, blacklist.AddBlockParams{
		IP:              p.IP,
		PolicyName:      p.PolicyName,
		Scope:           p.Scope,
		Reason:          reason,
		FingerprintHash: p.Fingerprint,
		Route:           p.Path,
		IsPermanent:     false,
		ExpiresAt:       &expiresAt,
	})

	return Result{
		Promoted: true,
		Reason:   fmt.Sprintf("Temporary block applied by policy %q until %s.", p.PolicyName, expiresAt.Format(time.RFC3339)),
	}
}
