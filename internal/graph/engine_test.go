package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/carddedupe/internal/cardlen"
	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/kvstore"
)

// fakeMatcher lets tests script RemoveCard's re-derive step (spec.md
// §4.4) without wiring a real sentence index.
type fakeMatcher struct {
	matches map[dedupe.CardID][]dedupe.CardID
}

func (f *fakeMatcher) Matches(ctx context.Context, id dedupe.CardID) ([]dedupe.CardID, error) {
	return f.matches[id], nil
}

type fakeQueue struct {
	enqueued []dedupe.CardID
}

func (f *fakeQueue) Enqueue(ctx context.Context, id dedupe.CardID) error {
	f.enqueued = append(f.enqueued, id)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, kvstore.Tx, context.Context) {
	t.Helper()
	ctx := context.Background()
	store := kvstore.NewMemStore()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	e := &Engine{
		SubBuckets:     NewSubBucketRepo(tx, "dedupe"),
		BucketSets:     NewBucketSetRepo(tx, "dedupe"),
		CardSubBuckets: cardlen.NewSubBucketRepo(tx, "dedupe"),
		Matcher:        &fakeMatcher{matches: map[dedupe.CardID][]dedupe.CardID{}},
		Queue:          &fakeQueue{},
		Log:            zap.NewNop().Sugar(),
	}
	return e, tx, ctx
}

// S1: ingest card 1 alone -> singleton SubBucket {1->1}.
func TestAddCardSingleton(t *testing.T) {
	e, _, ctx := newTestEngine(t)
	e.SubBuckets.New(1)

	key, err := e.AddCard(ctx, 1, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if key != 1 {
		t.Fatalf("expected key 1, got %d", key)
	}
	sb, ok, err := e.SubBuckets.Get(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("expected subbucket to exist: %v %v", ok, err)
	}
	if sb.Cards[1] != 1 {
		t.Fatalf("expected cards[1]=1, got %d", sb.Cards[1])
	}
	if sb.BucketSetKey != 1 {
		t.Fatalf("expected singleton bucketset key 1, got %d", sb.BucketSetKey)
	}
}

// S2: card 2 matches card 1 and joins its SubBucket.
func TestAddCardJoinsExisting(t *testing.T) {
	e, _, ctx := newTestEngine(t)
	e.SubBuckets.New(1)
	if _, err := e.AddCard(ctx, 1, 1, nil); err != nil {
		t.Fatal(err)
	}

	key, err := e.AddCard(ctx, 1, 2, []dedupe.CardID{1})
	if err != nil {
		t.Fatal(err)
	}
	if key != 1 {
		t.Fatalf("expected key to remain 1, got %d", key)
	}
	sb, _, _ := e.SubBuckets.Get(ctx, 1)
	if sb.Cards[1] != 2 || sb.Cards[2] != 2 {
		t.Fatalf("expected both cards' internal count to be 2, got %+v", sb.Cards)
	}
}

// S4 boundary: doesBucketMatch with exact 2/3 > 0.5 passes.
func TestDoesBucketMatchBoundary(t *testing.T) {
	e, _, _ := newTestEngine(t)
	sb := &SubBucket{Cards: map[dedupe.CardID]int{1: 1, 2: 1, 3: 1}}
	if !e.DoesBucketMatch(sb, []dedupe.CardID{1, 3}) {
		t.Fatal("expected 2/3 > 0.5 to match")
	}
	if e.DoesBucketMatch(sb, []dedupe.CardID{1}) {
		t.Fatal("expected 1/3 not to match")
	}
}

// ResolveRemoves evicts a member whose internal count fails SHOULD_MATCH.
func TestResolveRemovesEvictsViolator(t *testing.T) {
	e, _, ctx := newTestEngine(t)
	sb := e.SubBuckets.New(1)
	sb.Cards = map[dedupe.CardID]int{1: 2, 2: 2, 3: 1} // 3: 1/3 fails SHOULD_MATCH
	sb.BucketSetKey = 1
	e.CardSubBuckets.Set(1, 1)
	e.CardSubBuckets.Set(2, 1)
	e.CardSubBuckets.Set(3, 1)
	e.Matcher.(*fakeMatcher).matches[3] = []dedupe.CardID{} // count 1: card 3 matched no other member

	finalKey, removed, err := e.ResolveRemoves(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("expected a removal")
	}
	if finalKey != 1 {
		t.Fatalf("expected bucket to survive with key 1, got %d", finalKey)
	}
	remaining, _, _ := e.SubBuckets.Get(ctx, 1)
	if _, ok := remaining.Cards[3]; ok {
		t.Fatal("expected card 3 to be evicted")
	}
	if len(e.Queue.(*fakeQueue).enqueued) != 1 || e.Queue.(*fakeQueue).enqueued[0] != 3 {
		t.Fatalf("expected card 3 re-enqueued, got %+v", e.Queue.(*fakeQueue).enqueued)
	}
}

// PropagateKey renames a SubBucket when its minimum member changes, and
// carries the CardSubBucket back-references with it.
func TestPropagateKeyRenamesOnNewMinimum(t *testing.T) {
	e, _, ctx := newTestEngine(t)
	sb := e.SubBuckets.New(5)
	sb.Cards = map[dedupe.CardID]int{5: 1, 7: 1}
	sb.BucketSetKey = 5
	e.CardSubBuckets.Set(5, 5)
	e.CardSubBuckets.Set(7, 5)

	sb.Cards[2] = 1 // a new, smaller member arrives out of band
	newKey, err := e.PropagateKey(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if newKey != 2 {
		t.Fatalf("expected rename to key 2, got %d", newKey)
	}
	if _, ok, _ := e.SubBuckets.Get(ctx, 5); ok {
		t.Fatal("expected old key 5 to be gone from cache")
	}
	renamed, ok, err := e.SubBuckets.Get(ctx, 2)
	if err != nil || !ok {
		t.Fatalf("expected subbucket under new key 2: %v %v", ok, err)
	}
	if renamed.BucketSetKey != 2 {
		t.Fatalf("expected singleton bucketset to track rename to 2, got %d", renamed.BucketSetKey)
	}
	for _, id := range []dedupe.CardID{5, 7, 2} {
		key, ok, err := e.CardSubBuckets.Get(ctx, id)
		if err != nil || !ok || key != 2 {
			t.Fatalf("card %d CardSubBucket not updated to 2: key=%d ok=%v err=%v", id, key, ok, err)
		}
	}
}

// PropagateKey destroys an emptied SubBucket.
func TestPropagateKeyDestroysEmptyBucket(t *testing.T) {
	e, _, ctx := newTestEngine(t)
	sb := e.SubBuckets.New(1)
	sb.BucketSetKey = 1
	sb.Cards = map[dedupe.CardID]int{} // already emptied by the caller

	newKey, err := e.PropagateKey(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if newKey != 0 {
		t.Fatalf("expected destroyed bucket to report key 0, got %d", newKey)
	}
	if _, ok, _ := e.SubBuckets.Get(ctx, 1); ok {
		t.Fatal("expected subbucket 1 to be gone")
	}
}

// Merge unions two BucketSets' membership and reassigns every member's
// bucketSetId, per spec.md §4.5.
func TestMergeUnionsMembership(t *testing.T) {
	e, _, ctx := newTestEngine(t)
	sbA := e.SubBuckets.New(1)
	sbA.Cards = map[dedupe.CardID]int{1: 1}
	sbA.BucketSetKey = 1
	sbB := e.SubBuckets.New(10)
	sbB.Cards = map[dedupe.CardID]int{10: 1}
	sbB.BucketSetKey = 10

	newKey, err := e.Merge(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if newKey != 1 {
		t.Fatalf("expected merged key to be min(1,10)=1, got %d", newKey)
	}
	merged, ok, err := e.BucketSets.Get(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("expected persisted multi-member set at key 1: %v %v", ok, err)
	}
	if _, ok := merged.SubBucketKeys[1]; !ok {
		t.Fatal("expected subbucket 1 in merged set")
	}
	if _, ok := merged.SubBucketKeys[10]; !ok {
		t.Fatal("expected subbucket 10 in merged set")
	}
	if sbB.BucketSetKey != 1 {
		t.Fatalf("expected subbucket 10's bucketSetKey reassigned to 1, got %d", sbB.BucketSetKey)
	}
}

// Saving a BucketSet that has shrunk to a single member must not
// persist it (spec.md §9: singleton BucketSets are never persisted),
// and must clean up a stale KV entry from before the shrink.
func TestBucketSetRepoDropsSingletonOnSave(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()

	tx1, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	repo1 := NewBucketSetRepo(tx1, "dedupe")
	repo1.New(1, map[dedupe.SubBucketKey]struct{}{1: {}, 2: {}})
	repo1.Save()
	if err := tx1.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	tx2, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	repo2 := NewBucketSetRepo(tx2, "dedupe")
	bs, ok, err := repo2.Get(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("expected persisted set at key 1: %v %v", ok, err)
	}
	delete(bs.SubBucketKeys, 2)
	repo2.MarkDirty(1)
	repo2.Save()
	if err := tx2.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	tx3, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	repo3 := NewBucketSetRepo(tx3, "dedupe")
	if _, ok, err := repo3.Get(ctx, 1); err != nil || ok {
		t.Fatalf("expected shrunk-to-singleton set to no longer be persisted: ok=%v err=%v", ok, err)
	}
}

// S5: ResolveUpdates is the code path that actually triggers a merge,
// not Merge called directly. SubBucket 1 has an external match recorded
// against every member of SubBucket 10's family; once that family
// clears SHOULD_MERGE against SubBucket 1's set, ResolveUpdates absorbs
// it and re-checks for further merges before returning.
func TestResolveUpdatesMergesForeignBucketSet(t *testing.T) {
	e, _, ctx := newTestEngine(t)

	sbA := e.SubBuckets.New(1)
	sbA.Cards = map[dedupe.CardID]int{1: 1, 2: 1, 3: 1}
	sbA.Matching = map[dedupe.CardID]int{10: 1, 11: 1, 12: 1}
	sbA.BucketSetKey = 1

	sbB := e.SubBuckets.New(10)
	sbB.Cards = map[dedupe.CardID]int{10: 1, 11: 1, 12: 1}
	sbB.BucketSetKey = 10

	for _, id := range []dedupe.CardID{10, 11, 12} {
		e.CardSubBuckets.Set(id, 10)
	}

	finalKey, err := e.ResolveUpdates(ctx, 1, []dedupe.CardID{10, 11, 12})
	require.NoError(t, err)
	assert.Equal(t, dedupe.SubBucketKey(1), finalKey)

	merged, err := e.GetSet(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, merged.SubBucketKeys, dedupe.SubBucketKey(1))
	assert.Contains(t, merged.SubBucketKeys, dedupe.SubBucketKey(10))
	assert.Equal(t, dedupe.BucketSetKey(1), sbB.BucketSetKey, "subbucket 10 should now belong to the merged set")
}

// S5: "BucketSet.resolve may split card 50's bucket back out" — a
// three-way merged set where one member's external matches never point
// back at it fails SHOULD_MERGE against the rest and is evicted,
// leaving the remaining two members together.
func TestResolveSetEvictsWeaklyLinkedMember(t *testing.T) {
	e, _, ctx := newTestEngine(t)

	sbA := e.SubBuckets.New(1)
	sbA.Cards = map[dedupe.CardID]int{1: 1}
	sbA.Matching = map[dedupe.CardID]int{}
	sbA.BucketSetKey = 1

	sbB := e.SubBuckets.New(10)
	sbB.Cards = map[dedupe.CardID]int{10: 1}
	sbB.Matching = map[dedupe.CardID]int{20: 1}
	sbB.BucketSetKey = 1

	sbC := e.SubBuckets.New(20)
	sbC.Cards = map[dedupe.CardID]int{20: 1}
	sbC.Matching = map[dedupe.CardID]int{10: 1}
	sbC.BucketSetKey = 1

	e.BucketSets.New(1, map[dedupe.SubBucketKey]struct{}{1: {}, 10: {}, 20: {}})

	removed, err := e.ResolveSet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, removed, "expected the weakly-linked member to be evicted")

	survivors, err := e.GetSet(ctx, 10)
	require.NoError(t, err)
	assert.NotContains(t, survivors.SubBucketKeys, dedupe.SubBucketKey(1), "card 1's subbucket should have split back out")
	assert.Contains(t, survivors.SubBucketKeys, dedupe.SubBucketKey(10))
	assert.Contains(t, survivors.SubBucketKeys, dedupe.SubBucketKey(20))

	evicted, ok, err := e.SubBuckets.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dedupe.BucketSetKey(1), evicted.BucketSetKey, "evicted subbucket reverts to its own singleton set")
}
