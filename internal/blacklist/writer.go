package blacklist

import (
	"context"
	"log/slog"
	"time"

	"github.com/forkit/firewall/internal/background"
	"github.com/forkit/firewall/internal/storage"
)

// Store is the durable persistence collaborator a Writer needs; satisfied
// by *storage.BlockStore. Kept as an interface so tests can substitute an
// in-memory fake without touching sqlite.
type Store interface {
	PersistBlock(ctx context.Context, rec storage.BlockRecord) error
	PreloadActiveBlocks(ctx context.Context) ([]storage.BlockRecord, error)
}

// Writer is the authority for installing new blocks: it writes to the
// in-memory Cache synchronously (so the very next request sees it) and
// then hands the durable write off to the background scheduler. Persisting
// never blocks the caller, and its failure never undoes the in-memory
// block (spec.md §4.6, §7).
type Writer struct {
	cache       *Cache
	store       Store
	scheduler   *background.Scheduler
	broadcaster *Broadcaster
	now         func() time.Time
}

// NewWriter builds a Writer. broadcaster may be nil (no cross-instance
// propagation); scheduler must not be nil.
func NewWriter(cache *Cache, store Store, scheduler *background.Scheduler, broadcaster *Broadcaster) *Writer {
	return &Writer{
		cache:       cache,
		store:       store,
		scheduler:   scheduler,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// AddBlockParams is the input to AddBlock, mirroring spec.md §4.6's
// add_block(...) signature.
type AddBlockParams struct {
	IP              string
	PolicyName      string
	Scope           string
	Reason          string
	FingerprintHash string
	Route           string
	IsPermanent     bool
	ExpiresAt       *time.Time
}

// AddBlock constructs the Entry, inserts it into the cache synchronously,
// schedules the durable write, then publishes the entry through the
// broadcaster (if any) before returning.
func (w *Writer) AddBlock(ctx context.Context, p AddBlockParams) Entry {
	entry := NewEntry(p.IP, p.FingerprintHash, p.Route, p.PolicyName, p.Scope, p.Reason, p.IsPermanent, p.ExpiresAt, w.now().UTC())

	// 1. Instant in-memory protection — no DB wait.
	w.cache.Block(entry)

	// 2. Background persistence — does not block the caller.
	w.scheduler.Schedule(func(ctx context.Context) error {
		return w.store.PersistBlock(ctx, toRecord(entry))
	})

	// 3. Best-effort cross-instance propagation.
	w.broadcaster.Publish(ctx, entry)

	return entry
}

// PromotePermanentBlock is the convenience wrapper from spec.md §4.6: a
// permanent block attributed to the autonomous escalation path (Cerberus),
// scoped to IP_FINGERPRINT when a fingerprint is present, else IP.
func (w *Writer) PromotePermanentBlock(ctx context.Context, ip, fingerprint string) Entry {
	scope := "IP"
	if fingerprint != "" {
		scope = "IP_FINGERPRINT"
	}
	return w.AddBlock(ctx, AddBlockParams{
		IP:              ip,
		PolicyName:      CerberusPolicy,
		Scope:           scope,
		Reason:          CerberusReason,
		FingerprintHash: fingerprint,
		IsPermanent:     true,
	})
}

// PreloadCache loads every active BlockRecord from durable storage into the
// cache. Must run before the firewall accepts traffic; failure here is
// fatal (spec.md §7) since durable blocks would otherwise silently vanish.
func (w *Writer) PreloadCache(ctx context.Context) error {
	records, err := w.store.PreloadActiveBlocks(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		w.cache.Block(fromRecord(rec))
	}

	slog.Info("blacklist cache preloaded", "entries", len(records))
	return nil
}

func toRecord(e Entry) storage.BlockRecord {
	return storage.BlockRecord{
		ID:              e.ID,
		IP:              e.IP,
		FingerprintHash: e.FingerprintHash,
		Route:           e.Route,
		PolicyName:      e.PolicyName,
		Scope:           e.Scope,
		Reason:          e.Reason,
		IsPermanent:     e.IsPermanent,
		IsActive:        e.IsActive,
		ExpiresAt:       e.ExpiresAt,
		CreatedAt:       e.CreatedAt,
	}
}

func fromRecord(r storage.BlockRecord) Entry {
	return Entry{
		ID:              r.ID,
		IP:              r.IP,
		FingerprintHash: r.FingerprintHash,
		Route:           r.Route,
		PolicyName:      r.PolicyName,
		Scope:           r.Scope,
		Reason:          r.Reason,
		IsPermanent:     r.IsPermanent,
		IsActive:        r.IsActive,
		ExpiresAt:       r.ExpiresAt,
		CreatedAt:       r.CreatedAt,
	}
}
