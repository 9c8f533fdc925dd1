package processor

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/evidence"
	"github.com/dreamware/carddedupe/internal/kvstore"
	"github.com/dreamware/carddedupe/internal/queue"
)

func newProcessor(store kvstore.Store, ev *evidence.MemStore, q *queue.Queue, cfg dedupe.Config) *Processor {
	return &Processor{
		Store:    store,
		Prefix:   cfg.KeyPrefix,
		Evidence: ev,
		Queue:    q,
		Config:   cfg,
		Log:      zap.NewNop().Sugar(),
	}
}

func TestProcessCardIngestsNewSingleton(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	ev := evidence.NewMemStore()
	ev.Put(1, "The quick brown fox jumps over the lazy dog today.")
	q := queue.New(8)
	cfg := dedupe.Defaults()

	p := newProcessor(store, ev, q, cfg)

	result, err := p.ProcessCard(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Updates) != 1 {
		t.Fatalf("expected 1 update for a fresh singleton, got %d: %+v", len(result.Updates), result.Updates)
	}
	if result.Updates[0].BucketSetKey != 1 {
		t.Fatalf("expected bucket set keyed by the only card 1, got %d", result.Updates[0].BucketSetKey)
	}
}

func TestProcessCardJoinsMatchingCard(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	ev := evidence.NewMemStore()
	text := "The quick brown fox jumps over the lazy dog in the meadow today."
	ev.Put(1, text)
	ev.Put(2, text)
	q := queue.New(8)
	cfg := dedupe.Defaults()

	p := newProcessor(store, ev, q, cfg)

	if _, err := p.ProcessCard(ctx, 1); err != nil {
		t.Fatal(err)
	}
	result, err := p.ProcessCard(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Updates) != 1 {
		t.Fatalf("expected cards 1 and 2 in one subbucket, got %+v", result.Updates)
	}
	ids := map[dedupe.CardID]bool{}
	for _, id := range result.Updates[0].CardIDs {
		ids[id] = true
	}
	if !ids[1] || !ids[2] {
		t.Fatalf("expected both cards present, got %+v", result.Updates[0].CardIDs)
	}
}

func TestProcessCardMissingEvidenceFails(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	ev := evidence.NewMemStore()
	q := queue.New(8)
	cfg := dedupe.Defaults()

	p := newProcessor(store, ev, q, cfg)

	if _, err := p.ProcessCard(ctx, 99); err == nil {
		t.Fatal("expected an error for a card with no evidence")
	}
}

func TestProcessCardReprocessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	ev := evidence.NewMemStore()
	ev.Put(1, "The quick brown fox jumps over the lazy dog today in spring.")
	q := queue.New(8)
	cfg := dedupe.Defaults()

	p := newProcessor(store, ev, q, cfg)

	if _, err := p.ProcessCard(ctx, 1); err != nil {
		t.Fatal(err)
	}
	// Card 1 now owns a SubBucket; a second pass must take the
	// reprocess path and report the same membership without error.
	result, err := p.ProcessCard(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Updates) != 1 || len(result.Updates[0].CardIDs) != 1 {
		t.Fatalf("expected unchanged singleton membership, got %+v", result.Updates)
	}
}
