package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/kvstore"
)

func phone() domain.CartEntry {
	return domain.SnapshotOf(domain.Product{
		ID:       "p1",
		Name:     "Pixel",
		Category: domain.CategorySmartphone,
		Price:    decimal.RequireFromString("499.00"),
		Stock:    3,
	})
}

func TestKV_AddMergesByProduct(t *testing.T) {
	ctx := context.Background()
	repo := NewKV(kvstore.NewMemory(nil), nil)

	first, err := repo.AddLineItem(ctx, "u1", phone())
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if first.Merged || first.Entry.Quantity != 1 || first.Entry.ID == "" {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := repo.AddLineItem(ctx, "u1", phone())
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if !second.Merged || second.Entry.ID != first.Entry.ID || second.Entry.Quantity != 2 {
		t.Fatalf("unexpected second result %+v", second)
	}

	entries, _ := repo.List(ctx, "u1")
	if len(entries) != 1 || entries[0].Quantity != 2 {
		t.Fatalf("expected one entry with quantity 2, got %+v", entries)
	}

	other, _ := repo.List(ctx, "u2")
	if len(other) != 0 {
		t.Fatalf("carts must be scoped per user, got %+v", other)
	}
}

func TestKV_AddTreatsMissingQuantityAsOne(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory(nil)
	repo := NewKV(store, nil)

	_ = store.Write(ctx, "users/u1/cart/legacy", map[string]any{"productId": "p1", "productName": "Pixel", "price": "499.00"})

	res, err := repo.AddLineItem(ctx, "u1", phone())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.Entry.ID != "legacy" || res.Entry.Quantity != 2 {
		t.Fatalf("expected legacy entry bumped to 2, got %+v", res.Entry)
	}
}

func TestKV_ConcurrentAddsKeepOneEntry(t *testing.T) {
	ctx := context.Background()
	repo := NewKV(kvstore.NewMemory(nil), nil)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.AddLineItem(ctx, "u1", phone()); err != nil {
				t.Errorf("add: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, _ := repo.List(ctx, "u1")
	if len(entries) != 1 || entries[0].Quantity != n {
		t.Fatalf("expected one entry with quantity %d, got %+v", n, entries)
	}
}

// Two clients doing a plain read followed by a write can both miss each other's entry.
// This interleaving is what AddLineItem's transaction rules out.
func TestPlainReadThenWriteDuplicates(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory(nil)

	seenA, _ := store.Read(ctx, Path("u1"))
	seenB, _ := store.Read(ctx, Path("u1"))
	for _, seen := range []kvstore.Snapshot{seenA, seenB} {
		if _, found := findByProduct(seen, "p1"); !found {
			_, _ = store.Push(ctx, Path("u1"), toRecord(phone()))
		}
	}

	entries, _ := NewKV(store, nil).List(ctx, "u1")
	if len(entries) != 2 {
		t.Fatalf("expected the unsynchronized pattern to duplicate, got %d entries", len(entries))
	}
}

func TestKV_RemoveLineItem(t *testing.T) {
	ctx := context.Background()
	repo := NewKV(kvstore.NewMemory(nil), nil)

	res, _ := repo.AddLineItem(ctx, "u1", phone())
	if err := repo.RemoveLineItem(ctx, "u1", "missing"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	for _, id := range []string{"no.such", "a#b", "$x", "[0]"} {
		if err := repo.RemoveLineItem(ctx, "u1", id); err != nil {
			t.Fatalf("remove %q: %v", id, err)
		}
	}
	if entries, _ := repo.List(ctx, "u1"); len(entries) != 1 {
		t.Fatalf("removing a missing id must not change the cart")
	}
	if err := repo.RemoveLineItem(ctx, "u1", res.Entry.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if entries, _ := repo.List(ctx, "u1"); len(entries) != 0 {
		t.Fatalf("expected empty cart, got %+v", entries)
	}
}
