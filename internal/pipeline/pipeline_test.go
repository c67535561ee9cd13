package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forkit/firewall/internal/adaptive"
	"github.com/forkit/firewall/internal/background"
	"github.com/forkit/firewall/internal/blacklist"
	"github.com/forkit/firewall/internal/escalation"
	"github.com/forkit/firewall/internal/policy"
	"github.com/forkit/firewall/internal/ratelimit"
	"github.com/forkit/firewall/internal/storage"
	"github.com/forkit/firewall/internal/strike"
	"github.com/forkit/firewall/internal/telemetry"
)

// noopStore satisfies blacklist.Writer's Store interface without touching
// sqlite; the pipeline's own tests never exercise durable persistence.
type noopStore struct{}

func (noopStore) PersistBlock(context.Context, storage.BlockRecord) error { return nil }
func (noopStore) PreloadActiveBlocks(context.Context) ([]storage.BlockRecord, error) {
	return nil, nil
}

func newHarness(t *testing.T) *Pipeline {
	t.Helper()

	cache := blacklist.NewCache(100, time.Hour)
	sched := background.New(1, 16)
	t.Cleanup(sched.Stop)
	writer := blacklist.NewWriter(cache, noopStore{}, sched, nil)
	strikes := strike.New()
	coord := escalation.New(strikes, writer)

	return &Pipeline{
		Exemptions:        NewExemptions([]string{"/", "/status"}, []string{"/docs"}),
		Policies:          policy.Definitions,
		PolicyCache:       policy.NewCache(16),
		Limiter:           ratelimit.New(),
		Strikes:           strikes,
		Blacklist:         cache,
		Writer:            writer,
		Escalation:        coord,
		Observer:          adaptive.Noop{},
		FingerprintHeader: "X-Client-Fingerprint",
		Telemetry:         telemetry.NoopProvider(),
	}
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestPipeline_ExemptRequestBypasses(t *testing.T) {
	p := newHarness(t)
	handler := p.Wrap(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/users/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected exempt OPTIONS request to pass through, got %d", w.Code)
	}
}

func TestPipeline_AuthBurstPromotesToPermanent(t *testing.T) {
	p := newHarness(t)
	handler := p.Wrap(http.HandlerFunc(okHandler))

	burst := func() int {
		var last int
		for i := 0; i < 31; i++ {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			req.RemoteAddr = "1.1.1.1:5000"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			last = w.Code
		}
		return last
	}

	if code := burst(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on first burst's 31st request, got %d", code)
	}

	for i := 0; i < 4; i++ {
		burst()
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "1.1.1.1:5000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected permanent block after 5th burst, got %d", w.Code)
	}
}

func TestPipeline_XFFParsing(t *testing.T) {
	p := newHarness(t)
	handler := p.Wrap(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.5, 10.0.0.6")
	req.RemoteAddr = "192.0.2.1:1234"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", w.Code)
	}
	if got := clientIP(req); got != "10.0.0.5" {
		t.Fatalf("expected client ip 10.0.0.5, got %q", got)
	}
}

func TestPipeline_AdaptiveKillBlocksImmediately(t *testing.T) {
	p := newHarness(t)
	p.Observer = killObserver{}
	handler := p.Wrap(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.RemoteAddr = "9.9.9.9:1"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on adaptive KILL, got %d", w.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req2.RemoteAddr = "9.9.9.9:2"
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusForbidden {
		t.Fatalf("expected subsequent request from killed ip to be blocked, got %d", w2.Code)
	}
}

type killObserver struct{}

func (killObserver) Observe(adaptive.Event) {}
func (killObserver) Decide(adaptive.Key) adaptive.Decision {
	return adaptive.Kill
}
