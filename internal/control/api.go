// Package control is the firewall's admin surface: health and stats
// endpoints, following the teacher's http.ServeMux-based Handler pattern.
package control

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/forkit/firewall/internal/blacklist"
	"github.com/forkit/firewall/internal/policy"
	"github.com/forkit/firewall/internal/ratelimit"
	"github.com/forkit/firewall/internal/strike"
)

// Handler serves the firewall's control API.
type Handler struct {
	blacklist *blacklist.Cache
	limiter   *ratelimit.Limiter
	strikes   *strike.Engine
	policyCache *policy.Cache
	mux       *http.ServeMux

	authEnabled bool
	apiKey      string

	startedAt time.Time
}

// New creates a control API handler.
func New(bl *blacklist.Cache, limiter *ratelimit.Limiter, strikes *strike.Engine, policyCache *policy.Cache) *Handler {
	return NewWithAuth(bl, limiter, strikes, policyCache, false, "")
}

// NewWithAuth creates a control API handler with optional bearer-token auth.
func NewWithAuth(bl *blacklist.Cache, limiter *ratelimit.Limiter, strikes *strike.Engine, policyCache *policy.Cache, authEnabled bool, apiKey string) *Handler {
	h := &Handler{
		blacklist:   bl,
		limiter:     limiter,
		strikes:     strikes,
		policyCache: policyCache,
		mux:         http.NewServeMux(),
		authEnabled: authEnabled,
		apiKey:      apiKey,
		startedAt:   time.Now(),
	}

	h.mux.HandleFunc("/control/health", h.handleHealth)
	h.mux.HandleFunc("/control/stats", h.handleStats)

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.authEnabled && strings.HasPrefix(r.URL.Path, "/control/") && r.URL.Path != "/control/health" {
		if !h.checkAuth(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="firewall control API"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":   "unauthorized",
				"message": "Valid API key required. Use 'Authorization: Bearer <api_key>' header.",
			})
			return
		}
	}

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) checkAuth(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == h.apiKey && h.apiKey != ""
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status string    `json:"status"`
	Uptime string    `json:"uptime"`
	Now    time.Time `json:"now"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.startedAt).String(),
		Now:    time.Now().UTC(),
	})
}

// StatsResponse reports the in-memory size of the blacklist cache and the
// policy-resolution memo, for operators without durable-storage access.
type StatsResponse struct {
	BlacklistEntries int `json:"blacklist_entries"`
	PolicyCacheSize  int `json:"policy_cache_size"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		BlacklistEntries: h.blacklist.Len(),
		PolicyCacheSize:  h.policyCache.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
