package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/forkit/firewall/internal/background"
	"github.com/forkit/firewall/internal/blacklist"
	"github.com/forkit/firewall/internal/storage"
	"github.com/forkit/firewall/internal/strike"
)

type stubStore struct{}

func (stubStore) PersistBlock(context.Context, storage.BlockRecord) error { return nil }
func (stubStore) PreloadActiveBlocks(context.Context) ([]storage.BlockRecord, error) {
	return nil, nil
}

func newCoordinator(t *testing.T) (*Coordinator, *blacklist.Cache) {
	t.Helper()
	cache := blacklist.NewCache(10, time.Hour)
	sched := background.New(1, 4)
	t.Cleanup(sched.Stop)
	writer := blacklist.NewWriter(cache, stubStore{}, sched, nil)
	strikes := strike.New()
	return New(strikes, writer), cache
}

func TestIdentityKey(t *testing.T) {
	cases := []struct {
		scope string
		want  string
	}{
		{"ROUTE", "ROUTE:/auth/login:1.1.1.1"},
		{"IP", "IP:1.1.1.1"},
		{"IP_FINGERPRINT", "IP_FP:1.1.1.1:fp-1"},
		{"GLOBAL", "GLOBAL:1.1.1.1"},
		{"unknown-scope", "IP:1.1.1.1"},
	}
	for _, c := range cases {
		if got := IdentityKey(c.scope, "1.1.1.1", "/auth/login", "fp-1"); got != c.want {
			t.Errorf("IdentityKey(%s) = %q, want %q", c.scope, got, c.want)
		}
	}
}

func TestIdentityKey_MissingFingerprintBecomesNoFP(t *testing.T) {
	got := IdentityKey("IP_FINGERPRINT", "2.2.2.2", "", "")
	if got != "IP_FP:2.2.2.2:no-fp" {
		t.Fatalf("expected no-fp sentinel, got %q", got)
	}
}

func TestEscalateIfNeeded_TemporaryBlock(t *testing.T) {
	coord, cache := newCoordinator(t)

	var result Result
	for i := 0; i < 3; i++ {
		result = coord.EscalateIfNeeded(context.Background(), Params{
			IP:         "3.3.3.3",
			PolicyName: "OTP",
			Scope:      "IP_FINGERPRINT",
			Window:     10 * time.Minute,
			Threshold:  3,
			Fingerprint: "A",
		})
	}

	if !result.Promoted {
		t.Fatal("expected promotion on the 3rd strike")
	}
	if blocked, _ := cache.IsBlocked("3.3.3.3", "A"); !blocked {
		t.Fatal("expected the temporary block to be immediately visible in cache")
	}
	if blocked, _ := cache.IsBlocked("3.3.3.3", "B"); blocked {
		t.Fatal("a different fingerprint from the same ip must not be blocked")
	}
}

func TestEscalateIfNeeded_GlobalScopeAlwaysPermanent(t *testing.T) {
	coord, cache := newCoordinator(t)

	var result Result
	for i := 0; i < 2; i++ {
		result = coord.EscalateIfNeeded(context.Background(), Params{
			IP:                 "4.4.4.4",
			PolicyName:         "AUTH",
			Scope:              "GLOBAL",
			Window:             time.Minute,
			Threshold:          2,
			PromoteToPermanent: false,
		})
	}

	if !result.Promoted {
		t.Fatal("expected promotion")
	}
	if blocked, reason := cache.IsBlocked("4.4.4.4", ""); !blocked || reason == "" {
		t.Fatalf("expected a permanent block with a reason, got blocked=%v reason=%q", blocked, reason)
	}
}
