// Package graph implements SubBucket (spec.md §4.4, C5) and BucketSet
// (spec.md §4.5, C6) clustering together, in one package, behind a
// single stabilization engine.
//
// # Overview
//
// A SubBucket is a tight near-duplicate cluster: every pair of its
// members should satisfy SHOULD_MATCH against the bucket as a whole. A
// BucketSet is a looser family of SubBuckets whose union should satisfy
// SHOULD_MERGE against each constituent. Cards join and leave SubBuckets
// as the Matcher reports overlap; SubBuckets join and leave BucketSets
// as the aggregate of their external matches crosses the merge
// threshold. Engine is the only type that mutates either.
//
// # Architecture
//
//	┌───────────────────────────────────────────┐
//	│                  ENGINE                     │
//	├───────────────────────────────────────────┤
//	│                                             │
//	│  ┌───────────────────────────────────┐    │
//	│  │   SubBucketRepo                     │    │
//	│  │   - cache over "SB:<key>" hashes    │    │
//	│  │   - Cards: internal match counts    │    │
//	│  │   - Matching: external match counts │    │
//	│  └───────────────────────────────────┘    │
//	│                                             │
//	│  ┌───────────────────────────────────┐    │
//	│  │   BucketSetRepo                     │    │
//	│  │   - cache over "BS:<key>" sets      │    │
//	│  │   - SubBucketKeys membership        │    │
//	│  │   - singletons never persisted      │    │
//	│  └───────────────────────────────────┘    │
//	│                                             │
//	│  ┌───────────────────────────────────┐    │
//	│  │   MatchSource / Queue                │    │
//	│  │   - re-derive a card's matches      │    │
//	│  │   - re-enqueue an evicted card      │    │
//	│  └───────────────────────────────────┘    │
//	│                                             │
//	└───────────────────────────────────────────┘
//
// # Why one package
//
// spec.md §9 "Cyclic references" notes that SubBucket and BucketSet
// refer to each other only through logical keys, resolved through the
// Context's repositories, to avoid an ownership cycle. That statement is
// true of the *data*: neither struct here holds a pointer to the other.
// But the *operations* spec.md assigns to each — SubBucket.propagateKey
// calls BucketSet.removeSubBucket, which calls back into
// SubBucket.resolveUpdates, which can trigger BucketSet.merge — are
// mutually recursive by design. Splitting those operations across two
// packages would force an interface boundary through the middle of a
// single stabilization algorithm for no benefit, and either package
// would need to import the other's behavior back in, recreating the
// cycle spec.md's own design note is trying to avoid. Engine holds both
// repositories and implements every operation spec.md §4.4–§4.5
// describes; SubBucket and BucketSet are plain, repo-owned data.
//
// # Operations
//
// Per-card (SubBucket level):
//   - AddCard / RemoveCard: membership changes, driving Matching counts
//   - DoesBucketMatch: SHOULD_MATCH against a candidate's external overlap
//   - ResolveRemoves: evict members that fail SHOULD_MATCH, one at a time
//   - ResolveUpdates: pull in or merge with a foreign BucketSet when the
//     aggregate crosses SHOULD_MERGE
//   - PropagateKey: keep a SubBucket's key equal to min(Cards)
//
// Per-family (BucketSet level):
//   - Merge / RemoveSubBucket: absorb or evict a SubBucket
//   - ResolveSet: evict any member that fails SHOULD_MERGE against the
//     rest, recursing until the set is stable (spec.md §8 S5)
//   - PropagateSetKey: keep a BucketSet's key equal to min(members)
//
// # Determinism
//
// Every scan that can evict (ResolveRemoves, ResolveSet) visits
// candidates in ascending key order and stops at the first violator,
// so the same starting state always produces the same sequence of
// evictions regardless of Go's map iteration order.
package graph
