// Package uow implements the Context / unit of work (spec.md §4.7, C8):
// one KV transaction and isolated connection per card, the typed
// repositories layered over it, and Finish's fixed-order save plus
// commit.
//
// # Overview
//
// Every card the Processor handles gets its own Context: a fresh
// optimistic-concurrency transaction (WATCH any key a repository reads,
// MULTI/EXEC on Finish) plus an in-memory cache in front of each
// repository, so an entity already loaded in a pass over one card is
// served from the cache; a key found absent is read again on the next
// lookup. A Context is single-use — Finish or Quit ends it, and a new
// attempt after a conflict opens a brand new Context rather than
// reusing the old one.
//
// # Architecture
//
//	┌─────────────────────────────────────────────┐
//	│                  CONTEXT                       │
//	├─────────────────────────────────────────────┤
//	│  ID            correlation id (google/uuid)    │
//	│  tx            kvstore.Tx (WATCH/MULTI/EXEC)   │
//	│                                                 │
//	│  ┌─────────────┐ ┌─────────────┐ ┌──────────┐│
//	│  │ Lengths      │ │CardSubBucket│ │ Sentences││
//	│  │ (cardlen)    │ │s (cardlen)  │ │(sentence)││
//	│  └─────────────┘ └─────────────┘ └──────────┘│
//	│  ┌─────────────┐ ┌─────────────┐              │
//	│  │ SubBuckets   │ │ BucketSets  │  (graph)      │
//	│  └─────────────┘ └─────────────┘              │
//	│  ┌─────────────────────────────────────────┐  │
//	│  │ Engine — wraps the repos above, plus the │  │
//	│  │ MatchSource/Queue adapters the Processor  │  │
//	│  │ supplies                                  │  │
//	│  └─────────────────────────────────────────┘  │
//	└─────────────────────────────────────────────┘
//
// # Lifecycle
//
// New opens the transaction and constructs every repository over it.
// Operations on Lengths/CardSubBuckets/SubBuckets/Sentences/Engine only
// ever touch this Context's cache and the watched transaction — nothing
// is written to the store until Finish.
//
// Finish saves each repository in a fixed order — SubBucket,
// CardLength, CardSubBucket, Sentence, BucketSet — chosen so that a
// BucketSet's final, post-merge membership is only written once every
// SubBucket it could reference has already been persisted, then commits
// the transaction. A dedupe.ErrOptimisticConflict from Commit means
// some watched key changed underneath this attempt; the caller (the
// Processor's retry loop) discards this Context and starts over.
//
// Quit releases the transaction's watches and underlying connection
// without writing anything, for any error path that isn't a conflict —
// spec.md §5 requires this so a failed attempt never leaves a stale
// WATCH pinned against the connection pool.
//
// # Why no generic rename
//
// spec.md §9 "Dynamic keys" asks for a generic renameCacheKey
// capability. This codebase gives each graph repository (SubBucketRepo,
// BucketSetRepo) its own Rename method instead of routing through one
// generic cache, because Go has no natural "entity" supertype to key a
// shared cache by without reflection or an empty-interface escape hatch
// -- and each repository already needs entity-specific rename
// bookkeeping (the hash-field diff for SubBucket, the set-membership diff
// for BucketSet). cardlen's repositories have no Rename: a renamed
// SubBucket's members are re-pointed one card at a time through
// cardlen.SubBucketRepo.Set. Context.Finish simply calls Save on each in
// the fixed order spec.md requires.
package uow
