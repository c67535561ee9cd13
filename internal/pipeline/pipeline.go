// Package pipeline implements the request-time decision middleware from
// spec.md §4.7: for every non-exempt request it resolves a policy, checks
// the blacklist, applies the rate limiter, escalates on breach, consults the
// optional adaptive observer, and finally forwards to the wrapped handler.
package pipeline

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/forkit/firewall/internal/adaptive"
	"github.com/forkit/firewall/internal/blacklist"
	"github.com/forkit/firewall/internal/escalation"
	"github.com/forkit/firewall/internal/policy"
	"github.com/forkit/firewall/internal/ratelimit"
	"github.com/forkit/firewall/internal/strike"
	"github.com/forkit/firewall/internal/telemetry"
)

// throttleDelay is the fixed sleep applied on an adaptive THROTTLE verdict
// (spec.md §4.7 step 10).
const throttleDelay = 250 * time.Millisecond

// Exemptions decides whether a request skips the pipeline entirely
// (spec.md §4.1).
type Exemptions struct {
	ExactPaths map[string]struct{}
	Prefixes   []string
}

// NewExemptions builds an Exemptions set from configured paths.
func NewExemptions(exactPaths, prefixes []string) Exemptions {
	exact := make(map[string]struct{}, len(exactPaths))
	for _, p := range exactPaths {
		exact[p] = struct{}{}
	}
	return Exemptions{ExactPaths: exact, Prefixes: prefixes}
}

// Exempt reports whether a request should bypass the pipeline.
func (e Exemptions) Exempt(method, path string) bool {
	if method == http.MethodOptions {
		return true
	}
	if _, ok := e.ExactPaths[path]; ok {
		return true
	}
	for _, prefix := range e.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Pipeline wires every component from spec.md §3/§4 into the single
// middleware described in §4.7.
type Pipeline struct {
	Exemptions        Exemptions
	Policies          map[policy.Tag]policy.Definition
	PolicyCache       *policy.Cache
	Limiter           *ratelimit.Limiter
	Strikes           *strike.Engine
	Blacklist         *blacklist.Cache
	Writer            *blacklist.Writer
	Escalation        *escalation.Coordinator
	Observer          adaptive.Observer
	FingerprintHeader string
	Telemetry         *telemetry.Provider
}

// Wrap returns an http.Handler implementing spec.md §4.7's thirteen steps
// around next.
func (p *Pipeline) Wrap(next http.Handler) http.Handler {
	observer := p.Observer
	if observer == nil {
		observer = adaptive.Noop{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Step 1.
		start := time.Now()

		if p.Exemptions.Exempt(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// Step 2.
		tag := p.PolicyCache.Resolve(r.URL.Path)
		def, ok := p.Policies[tag]
		if !ok {
			def = p.Policies[policy.PUBLIC]
		}

		ctx, span := p.Telemetry.StartRequestSpan(r.Context(), r.Method, r.URL.Path, string(tag))
		r = r.WithContext(ctx)
		defer span.End()

		// Step 3.
		ip := clientIP(r)

		// Step 4.
		fingerprint := ""
		if def.FingerprintRequired {
			fingerprint = r.Header.Get(p.FingerprintHeader)
		}

		ipKey := hashKey(ip)
		fpKey := hashKey(fingerprint)

		// Step 5.
		observer.Observe(adaptive.Event{
			TsUs:           start.UnixMicro(),
			IPKey:          ipKey,
			PathHash:       hashKey(r.URL.Path),
			MethodHash:     hashKey(r.Method),
			FingerprintKey: fpKey,
		})

		key := adaptive.Key{IPKey: ipKey, FingerprintKey: fpKey}

		// Step 6.
		if blocked, reason := p.Blacklist.IsBlocked(ip, fingerprint); blocked {
			telemetry.AnnotateDecision(span, string(def.EscalationScope), true, false, "", http.StatusForbidden)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Access blocked", "reason": reason})
			return
		}

		// Step 7.
		rateLimitKey := string(tag) + ":" + escalation.IdentityKey(string(def.EscalationScope), ip, r.URL.Path, fingerprint)

		// Step 8.
		promoted := false
		if !p.Limiter.Hit(rateLimitKey, def.Requests, def.Window) {
			// Step 9.
			result := p.Escalation.EscalateIfNeeded(r.Context(), escalation.Params{
				IP:                 ip,
				PolicyName:         string(tag),
				Scope:              string(def.EscalationScope),
				Window:             def.Window,
				Threshold:          def.EscalateAfter,
				Path:               r.URL.Path,
				Fingerprint:        fingerprint,
				PromoteToPermanent: def.GlobalBlock,
			})
			if result.Promoted && def.GlobalBlock {
				telemetry.AnnotateDecision(span, string(def.EscalationScope), true, true, "", http.StatusForbidden)
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "Permanently blocked", "reason": result.Reason})
				return
			}
			telemetry.AnnotateDecision(span, string(def.EscalationScope), false, result.Promoted, "", http.StatusTooManyRequests)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests", "message": "rate limit exceeded for this policy"})
			return
		}

		// Step 10. A Decide call that panics is treated as Allow.
		decision := func() (d adaptive.Decision) {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("adaptive observer panicked, treating as allow", "panic", rec)
					d = adaptive.Allow
				}
			}()
			return observer.Decide(key)
		}()
		switch decision {
		case adaptive.Kill:
			p.Writer.PromotePermanentBlock(r.Context(), ip, fingerprint)
			telemetry.AnnotateDecision(span, string(def.EscalationScope), true, true, string(adaptive.Kill), http.StatusForbidden)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Access permanently blocked by adaptive security"})
			return
		case adaptive.Challenge:
			telemetry.AnnotateDecision(span, string(def.EscalationScope), false, promoted, string(adaptive.Challenge), http.StatusUnauthorized)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Additional verification required"})
			return
		case adaptive.Throttle:
			time.Sleep(throttleDelay)
		}

		// Step 11.
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Step 12.
		observer.Observe(adaptive.Event{
			TsUs:           time.Now().UnixMicro(),
			IPKey:          ipKey,
			PathHash:       hashKey(r.URL.Path),
			MethodHash:     hashKey(r.Method),
			Status:         rec.status,
			LatencyUs:      time.Since(start).Microseconds(),
			FingerprintKey: fpKey,
		})
		telemetry.AnnotateDecision(span, string(def.EscalationScope), false, promoted, string(adaptive.Allow), rec.status)
	})
}

// clientIP extracts the caller's address per spec.md §4.7 step 3:
// X-Forwarded-For's first entry if present, else RemoteAddr, else the
// "unknown" sentinel.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if r.RemoteAddr != "" {
		host := r.RemoteAddr
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
		return host
	}
	return "unknown"
}

// hashKey turns an opaque string identity component into the uint64 key
// form the adaptive observer contract uses (spec.md §6).
func hashKey(s string) uint64 {
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211 // FNV-1a prime
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
