package sentence

import (
	"context"
	"testing"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/kvstore"
)

func TestFingerprintStable(t *testing.T) {
	a := Compute("a normalized sentence about something specific")
	b := Compute("a normalized sentence about something specific")
	if a != b {
		t.Fatalf("fingerprint not stable: %v != %v", a, b)
	}
	if len(a.BucketKey) != 5 {
		t.Fatalf("expected 5-char bucketKey, got %q", a.BucketKey)
	}
	if len(a.SubKey) != 10 {
		t.Fatalf("expected 10-char subKey, got %q", a.SubKey)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	fp := Compute("another sentence entirely distinct from the first")
	rec, err := packRecord(fp.SubKey, dedupe.CardID(42), dedupe.SentenceIdx(7))
	if err != nil {
		t.Fatal(err)
	}
	if len(rec) != recordSize {
		t.Fatalf("expected %d bytes, got %d", recordSize, len(rec))
	}

	occs, err := unpackShard(rec)
	if err != nil {
		t.Fatal(err)
	}
	if len(occs) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(occs))
	}
	if occs[0].SubKey != fp.SubKey || occs[0].CardID != 42 || occs[0].SentenceIdx != 7 {
		t.Fatalf("round trip mismatch: %+v", occs[0])
	}
}

func TestUnpackShardCorrupt(t *testing.T) {
	_, err := unpackShard(make([]byte, 10))
	if err == nil {
		t.Fatal("expected error for non-multiple-of-11 shard")
	}
}

func TestIndexAddFetchSave(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	idx := New(tx, "dedupe")

	s1 := "first card opens with this exact sentence right here"
	if err := idx.AddOccurrence(s1, 1, 0); err != nil {
		t.Fatal(err)
	}
	idx.Save()
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	tx2, _ := store.Begin(ctx)
	idx2 := New(tx2, "dedupe")
	occsBySentence, err := idx2.Fetch(ctx, []string{s1})
	if err != nil {
		t.Fatal(err)
	}
	occs := occsBySentence[s1]
	if len(occs) != 1 || occs[0].CardID != 1 {
		t.Fatalf("expected one occurrence for card 1, got %+v", occs)
	}

	// A second card sharing the sentence should see card 1's occurrence.
	if err := idx2.AddOccurrence(s1, 2, 0); err != nil {
		t.Fatal(err)
	}
	idx2.Save()
	if err := tx2.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	tx3, _ := store.Begin(ctx)
	idx3 := New(tx3, "dedupe")
	occsBySentence, err = idx3.Fetch(ctx, []string{s1})
	if err != nil {
		t.Fatal(err)
	}
	if len(occsBySentence[s1]) != 2 {
		t.Fatalf("expected 2 occurrences after both cards, got %d", len(occsBySentence[s1]))
	}
}
