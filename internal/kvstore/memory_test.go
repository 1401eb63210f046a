package kvstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type item struct {
	Name  string `json:"name"`
	Price string `json:"price"`
	Qty   int    `json:"qty"`
}

func TestMemory_WriteReadDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(nil)

	if err := s.Write(ctx, "items/a", item{Name: "Phone", Price: "19.99", Qty: 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	snap, err := s.Read(ctx, "/items/a/")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var got item
	if err := snap.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(item{Name: "Phone", Price: "19.99", Qty: 2}, got); diff != "" {
		t.Fatalf("item mismatch (-want +got):\n%s", diff)
	}
	if snap.Key() != "a" {
		t.Fatalf("expected key a, got %q", snap.Key())
	}

	name, err := s.Read(ctx, "items/a/name")
	if err != nil {
		t.Fatalf("Read leaf: %v", err)
	}
	if string(name.Raw()) != `"Phone"` {
		t.Fatalf("unexpected leaf %s", name.Raw())
	}

	if err := s.Delete(ctx, "items/a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	snap, err = s.Read(ctx, "items/a")
	if err != nil {
		t.Fatalf("Read after delete: %v", err)
	}
	if snap.Exists() {
		t.Fatalf("expected absent value, got %s", snap.Raw())
	}
	if err := s.Delete(ctx, "items/missing"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestMemory_WriteReplacesSubtree(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(nil)

	_ = s.Write(ctx, "items/a", map[string]any{"name": "x", "extra": true})
	_ = s.Write(ctx, "items/a", map[string]any{"name": "y"})

	snap, _ := s.Read(ctx, "items/a")
	var got map[string]any
	if err := snap.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"name": "y"}, got); diff != "" {
		t.Fatalf("replace mismatch (-want +got):\n%s", diff)
	}

	_ = s.Write(ctx, "flag", true)
	_ = s.Write(ctx, "flag/child", 1)
	snap, _ = s.Read(ctx, "flag")
	if string(snap.Raw()) != `{"child":1}` {
		t.Fatalf("expected primitive ancestor replaced, got %s", snap.Raw())
	}
}

func TestMemory_UpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(nil)

	_ = s.Write(ctx, "items/a", item{Name: "Phone", Price: "10", Qty: 1})
	if err := s.Update(ctx, "items/a", map[string]any{"qty": 3}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	snap, _ := s.Read(ctx, "items/a")
	var got item
	_ = snap.Decode(&got)
	if diff := cmp.Diff(item{Name: "Phone", Price: "10", Qty: 3}, got); diff != "" {
		t.Fatalf("update mismatch (-want +got):\n%s", diff)
	}

	if err := s.Update(ctx, "items/a", map[string]any{"price": nil}); err != nil {
		t.Fatalf("Update nil: %v", err)
	}
	snap, _ = s.Read(ctx, "items/a/price")
	if snap.Exists() {
		t.Fatalf("expected price removed")
	}
}

func TestMemory_PushOrdersChildren(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(nil)

	var keys []string
	for _, name := range []string{"first", "second", "third"} {
		key, err := s.Push(ctx, "items", item{Name: name})
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		keys = append(keys, key)
	}

	snap, _ := s.Read(ctx, "items")
	children := snap.Children()
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(children))
	}
	var names []string
	for i, c := range children {
		if c.Key() != keys[i] {
			t.Fatalf("child %d key %q, want %q", i, c.Key(), keys[i])
		}
		var it item
		_ = c.Decode(&it)
		names = append(names, it.Name)
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, names); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestMemory_InvalidPath(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(nil)

	for _, p := range []string{"", "/", "a//b", "a.b", "a/$key"} {
		if err := s.Write(ctx, p, 1); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Write(%q): expected ErrInvalidPath, got %v", p, err)
		}
	}
	if err := s.Write(ctx, "ok", map[string]any{"bad.key": 1}); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for bad field key, got %v", err)
	}
}

func TestMemory_SubscribeDeliversCurrentAndChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(nil)
	_ = s.Write(ctx, "items/a", item{Name: "A"})

	got := make(chan Snapshot, 16)
	unsub, err := s.Subscribe("items", func(snap Snapshot) { got <- snap })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	first := waitSnapshot(t, got)
	if len(first.Children()) != 1 {
		t.Fatalf("expected initial snapshot with 1 child, got %s", first.Raw())
	}

	_ = s.Write(ctx, "items/b", item{Name: "B"})
	next := waitFor(t, got, func(s Snapshot) bool { return len(s.Children()) == 2 })
	if next.Path != "items" {
		t.Fatalf("unexpected path %q", next.Path)
	}

	_ = s.Write(ctx, "other/x", 1)
	select {
	case snap := <-got:
		t.Fatalf("unexpected delivery for unrelated write: %s", snap.Raw())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemory_SubscribeAbsentPath(t *testing.T) {
	s := NewMemory(nil)
	got := make(chan Snapshot, 4)
	unsub, err := s.Subscribe("users/u1/cart", func(snap Snapshot) { got <- snap })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if snap := waitSnapshot(t, got); snap.Exists() {
		t.Fatalf("expected empty snapshot, got %s", snap.Raw())
	}
}

func TestMemory_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(nil)

	got := make(chan Snapshot, 16)
	unsub, _ := s.Subscribe("items", func(snap Snapshot) { got <- snap })
	waitSnapshot(t, got)
	unsub()
	unsub()

	if n := s.hub.count(); n != 0 {
		t.Fatalf("expected no subscriptions, got %d", n)
	}
	_ = s.Write(ctx, "items/a", 1)
	select {
	case <-got:
		t.Fatalf("delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemory_TransactionCommitAndAbort(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(nil)
	_ = s.Write(ctx, "carts/u1/a", item{Name: "A", Qty: 1})

	err := s.Transaction(ctx, "carts/u1", func(tx Tx) error {
		snap, err := tx.Read(ctx, "carts/u1/a/qty")
		if err != nil {
			return err
		}
		var qty int
		if err := snap.Decode(&qty); err != nil {
			return err
		}
		if err := tx.Update(ctx, "carts/u1/a", map[string]any{"qty": qty + 1}); err != nil {
			return err
		}
		after, _ := tx.Read(ctx, "carts/u1/a/qty")
		if string(after.Raw()) != "2" {
			t.Errorf("tx read did not observe own write: %s", after.Raw())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	snap, _ := s.Read(ctx, "carts/u1/a/qty")
	if string(snap.Raw()) != "2" {
		t.Fatalf("expected qty 2, got %s", snap.Raw())
	}

	boom := errors.New("boom")
	err = s.Transaction(ctx, "carts/u1", func(tx Tx) error {
		_ = tx.Delete(ctx, "carts/u1/a")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	snap, _ = s.Read(ctx, "carts/u1/a")
	if !snap.Exists() {
		t.Fatalf("aborted transaction must not apply writes")
	}

	err = s.Transaction(ctx, "carts/u1", func(tx Tx) error {
		return tx.Write(ctx, "carts/u2/a", 1)
	})
	if !errors.Is(err, ErrOutsideTransaction) {
		t.Fatalf("expected ErrOutsideTransaction, got %v", err)
	}
}

func TestMemory_TransactionSerializesReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(nil)
	_ = s.Write(ctx, "counters/c", 0)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Transaction(ctx, "counters", func(tx Tx) error {
				snap, err := tx.Read(ctx, "counters/c")
				if err != nil {
					return err
				}
				var n int
				if err := snap.Decode(&n); err != nil {
					return err
				}
				return tx.Write(ctx, "counters/c", n+1)
			})
			if err != nil {
				t.Errorf("Transaction: %v", err)
			}
		}()
	}
	wg.Wait()

	snap, _ := s.Read(ctx, "counters/c")
	var n int
	_ = snap.Decode(&n)
	if n != workers {
		t.Fatalf("expected %d, got %d", workers, n)
	}
}

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func waitFor(t *testing.T, ch <-chan Snapshot, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching snapshot")
			return Snapshot{}
		}
	}
}
