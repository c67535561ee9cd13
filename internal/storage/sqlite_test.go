package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBlockStore_PersistAndPreloadRoundTrip(t *testing.T) {
	store, err := NewBlockStore(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	rec := BlockRecord{
		ID:          uuid.New(),
		IP:          "1.2.3.4",
		PolicyName:  "AUTH",
		Scope:       "IP",
		Reason:      "breach",
		IsPermanent: true,
		IsActive:    true,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}

	if err := store.PersistBlock(ctx, rec); err != nil {
		t.Fatalf("persisting block: %v", err)
	}

	records, err := store.PreloadActiveBlocks(ctx)
	if err != nil {
		t.Fatalf("preloading active blocks: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 active block, got %d", len(records))
	}
	if records[0].IP != rec.IP || records[0].PolicyName != rec.PolicyName {
		t.Fatalf("round-tripped record mismatch: %+v", records[0])
	}
}

func TestBlockStore_IsPermanentlyBlocked(t *testing.T) {
	store, err := NewBlockStore(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if permanent, err := store.IsPermanentlyBlocked(ctx, "9.9.9.9"); err != nil || permanent {
		t.Fatalf("expected no permanent block before any write, got %v, err=%v", permanent, err)
	}

	_ = store.PersistBlock(ctx, BlockRecord{
		ID:          uuid.New(),
		IP:          "9.9.9.9",
		PolicyName:  "CERBERUS",
		Scope:       "IP",
		Reason:      "perma",
		IsPermanent: true,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	})

	permanent, err := store.IsPermanentlyBlocked(ctx, "9.9.9.9")
	if err != nil {
		t.Fatalf("checking permanent block: %v", err)
	}
	if !permanent {
		t.Fatal("expected ip to be reported as permanently blocked")
	}
}

func TestBlockStore_InactiveBlockExcludedFromPreload(t *testing.T) {
	store, err := NewBlockStore(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	_ = store.PersistBlock(ctx, BlockRecord{
		ID:         uuid.New(),
		IP:         "8.8.8.8",
		PolicyName: "AUTH",
		Scope:      "IP",
		Reason:     "expired",
		IsActive:   false,
		CreatedAt:  time.Now().UTC(),
	})

	records, err := store.PreloadActiveBlocks(ctx)
	if err != nil {
		t.Fatalf("preloading active blocks: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected inactive block to be excluded, got %d records", len(records))
	}
}
