package blacklist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/forkit/firewall/internal/background"
	"github.com/forkit/firewall/internal/storage"
)

// recordingStore is an in-memory Store fake; PersistBlock blocks until
// released so tests can observe that the cache is updated before the
// durable write completes (spec.md §8: "add_block makes is_cached_blocked
// return true before any durable write completes").
type recordingStore struct {
	mu       sync.Mutex
	release  chan struct{}
	persisted []storage.BlockRecord
	preload  []storage.BlockRecord
}

func (s *recordingStore) PersistBlock(_ context.Context, rec storage.BlockRecord) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, rec)
	return nil
}

func (s *recordingStore) PreloadActiveBlocks(context.Context) ([]storage.BlockRecord, error) {
	return s.preload, nil
}

func TestWriter_CacheVisibleBeforeDurableWriteCompletes(t *testing.T) {
	cache := NewCache(10, time.Hour)
	sched := background.New(1, 4)
	t.Cleanup(sched.Stop)

	store := &recordingStore{release: make(chan struct{})}
	w := NewWriter(cache, store, sched, nil)

	w.AddBlock(context.Background(), AddBlockParams{
		IP:          "1.1.1.1",
		PolicyName:  "AUTH",
		Scope:       "IP",
		Reason:      "breach",
		IsPermanent: true,
	})

	if blocked, _ := cache.IsBlocked("1.1.1.1", ""); !blocked {
		t.Fatal("cache must reflect the block synchronously, before the durable write runs")
	}

	close(store.release)
}

func TestWriter_PreloadCachePopulatesFromStore(t *testing.T) {
	cache := NewCache(10, time.Hour)
	sched := background.New(1, 4)
	t.Cleanup(sched.Stop)

	store := &recordingStore{
		release: make(chan struct{}),
		preload: []storage.BlockRecord{
			{IP: "2.2.2.2", PolicyName: "CERBERUS", Scope: "IP", Reason: "restored", IsPermanent: true, IsActive: true, CreatedAt: time.Now()},
		},
	}
	close(store.release)
	w := NewWriter(cache, store, sched, nil)

	if err := w.PreloadCache(context.Background()); err != nil {
		t.Fatalf("preload failed: %v", err)
	}

	if blocked, _ := cache.IsBlocked("2.2.2.2", ""); !blocked {
		t.Fatal("expected preloaded active block to be visible")
	}
}

func TestWriter_PromotePermanentBlockScopesByFingerprint(t *testing.T) {
	cache := NewCache(10, time.Hour)
	sched := background.New(1, 4)
	t.Cleanup(sched.Stop)

	store := &recordingStore{release: make(chan struct{})}
	close(store.release)
	w := NewWriter(cache, store, sched, nil)

	entry := w.PromotePermanentBlock(context.Background(), "3.3.3.3", "fp-9")
	if entry.Scope != "IP_FINGERPRINT" {
		t.Fatalf("expected IP_FINGERPRINT scope when fingerprint present, got %q", entry.Scope)
	}

	entry2 := w.PromotePermanentBlock(context.Background(), "4.4.4.4", "")
	if entry2.Scope != "IP" {
		t.Fatalf("expected IP scope when fingerprint absent, got %q", entry2.Scope)
	}
}
