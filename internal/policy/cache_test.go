package policy

import "testing"

func TestCache_ResolveMemoises(t *testing.T) {
	c := NewCache(2)

	if got := c.Resolve("/admin/x"); got != ADMIN {
		t.Fatalf("expected ADMIN, got %s", got)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 memoised entry, got %d", c.Len())
	}

	// Second resolution of the same path must hit the memo, not recompute.
	if got := c.Resolve("/admin/x"); got != ADMIN {
		t.Fatalf("expected ADMIN on second resolve, got %s", got)
	}
	if c.Len() != 1 {
		t.Fatalf("expected memo to stay at 1 entry for a repeated path, got %d", c.Len())
	}
}

func TestCache_DefaultCapacity(t *testing.T) {
	c := NewCache(0)
	if c == nil {
		t.Fatal("NewCache(0) must fall back to a default capacity, not fail")
	}
}
