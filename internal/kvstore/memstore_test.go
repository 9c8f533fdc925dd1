package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/dreamware/carddedupe/internal/dedupe"
)

func TestMemStoreReadYourOwnPendingWritesNotVisible(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	tx, _ := store.Begin(ctx)
	tx.Queue(AppendString("S:abcde", []byte("hello")))
	got, err := tx.GetString(ctx, "S:abcde")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected queued write to not be visible before commit, got %q", got)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	tx2, _ := store.Begin(ctx)
	got2, err := tx2.GetString(ctx, "S:abcde")
	if err != nil {
		t.Fatal(err)
	}
	if string(got2) != "hello" {
		t.Fatalf("expected committed value to be visible, got %q", got2)
	}
}

func TestMemStoreOptimisticConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	// Seed a key.
	seed, _ := store.Begin(ctx)
	seed.Queue(SetHashFields("SB:1", map[string]string{"bs": "1"}))
	if err := seed.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	tx1, _ := store.Begin(ctx)
	tx2, _ := store.Begin(ctx)

	// Both watch the same key by reading it.
	if _, err := tx1.GetHash(ctx, "SB:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := tx2.GetHash(ctx, "SB:1"); err != nil {
		t.Fatal(err)
	}

	tx2.Queue(SetHashFields("SB:1", map[string]string{"c1": "2"}))
	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("tx2 commit should succeed: %v", err)
	}

	tx1.Queue(SetHashFields("SB:1", map[string]string{"c2": "3"}))
	err := tx1.Commit(ctx)
	if !errors.Is(err, dedupe.ErrOptimisticConflict) {
		t.Fatalf("expected ErrOptimisticConflict for tx1, got %v", err)
	}
}

func TestMemStoreSetAddRemove(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	tx, _ := store.Begin(ctx)
	tx.Queue(SAdd("BS:1", "1", "2", "3"))
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	tx2, _ := store.Begin(ctx)
	members, err := tx2.GetSet(ctx, "BS:1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %v", members)
	}

	tx2.Queue(SRem("BS:1", "2"))
	if err := tx2.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	tx3, _ := store.Begin(ctx)
	members, err = tx3.GetSet(ctx, "BS:1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members after removal, got %v", members)
	}
}
