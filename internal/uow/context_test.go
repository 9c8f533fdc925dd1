package uow

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/kvstore"
)

type noopMatcher struct{}

func (noopMatcher) Matches(ctx context.Context, id dedupe.CardID) ([]dedupe.CardID, error) {
	return nil, nil
}

type noopQueue struct{}

func (noopQueue) Enqueue(ctx context.Context, id dedupe.CardID) error { return nil }

func TestFinishSavesAndCommitsNewSingleton(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	log := zap.NewNop().Sugar()

	c, err := New(ctx, store, "dedupe", noopMatcher{}, noopQueue{}, log)
	if err != nil {
		t.Fatal(err)
	}

	c.Lengths.Set(1, 3)
	c.SubBuckets.New(1)
	if _, err := c.Engine.AddCard(ctx, 1, 1, nil); err != nil {
		t.Fatal(err)
	}

	result, err := c.Finish(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// A fresh singleton SubBucket/BucketSet is not a "touched" multi-
	// member BucketSet worth reporting upstream in the same sense a
	// merge would be, but its membership still snapshots to one entry.
	if len(result.Updates) != 1 {
		t.Fatalf("expected 1 update snapshot, got %d: %+v", len(result.Updates), result.Updates)
	}
	if result.Updates[0].BucketSetKey != 1 || len(result.Updates[0].CardIDs) != 1 {
		t.Fatalf("unexpected snapshot: %+v", result.Updates[0])
	}

	// A second unit of work must see the committed state.
	c2, err := New(ctx, store, "dedupe", noopMatcher{}, noopQueue{}, log)
	if err != nil {
		t.Fatal(err)
	}
	length, ok, err := c2.Lengths.Get(ctx, 1)
	if err != nil || !ok || length != 3 {
		t.Fatalf("expected persisted length 3, got %d ok=%v err=%v", length, ok, err)
	}
	sbKey, ok, err := c2.CardSubBuckets.Get(ctx, 1)
	if err != nil || !ok || sbKey != 1 {
		t.Fatalf("expected card 1 owned by subbucket 1, got %d ok=%v err=%v", sbKey, ok, err)
	}
}

func TestQuitClosesWithoutCommitting(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	log := zap.NewNop().Sugar()

	c, err := New(ctx, store, "dedupe", noopMatcher{}, noopQueue{}, log)
	if err != nil {
		t.Fatal(err)
	}
	c.Lengths.Set(1, 5)
	if err := c.Quit(ctx); err != nil {
		t.Fatal(err)
	}

	c2, err := New(ctx, store, "dedupe", noopMatcher{}, noopQueue{}, log)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c2.Lengths.Get(ctx, 1); ok {
		t.Fatal("expected uncommitted write from a quit Context not to be visible")
	}
}
