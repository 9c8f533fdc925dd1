// Package processor implements the Processor (spec.md §4.6, C9): the
// orchestration of one card's add/reprocess workflow across the
// Matcher, the graph Engine, and the Context/unit of work, plus the
// retry-on-conflict loop spec.md §5 describes.
//
// # Overview
//
// ProcessCard is the single entry point a driver calls with a card ID.
// It knows nothing about Redis, HTTP, or the queue's producer side —
// only how to run one card through to a stable clustering outcome or a
// permanent error.
//
// # Architecture
//
//	┌───────────────────────────────────────────────┐
//	│                  PROCESSOR                       │
//	├───────────────────────────────────────────────┤
//	│                                                 │
//	│   ProcessCard(id)                               │
//	│        │                                        │
//	│        ▼                                        │
//	│   ┌─────────────────────────────┐               │
//	│   │ backoff.Retry (unbounded)    │               │
//	│   │  ┌───────────────────────┐  │               │
//	│   │  │ uow.New(...)           │  │               │
//	│   │  │   owner already set?   │  │               │
//	│   │  │   ├─ yes → reprocess() │  │               │
//	│   │  │   └─ no  → ingest()    │  │               │
//	│   │  └───────────────────────┘  │               │
//	│   │  ErrOptimisticConflict →     │               │
//	│   │    retry with fresh Context  │               │
//	│   │  anything else →            │               │
//	│   │    backoff.Permanent, stop   │               │
//	│   └─────────────────────────────┘               │
//	│                                                 │
//	└───────────────────────────────────────────────┘
//
// # Workflows
//
// reprocess (spec.md §4.6 step 1): a card that already owns a SubBucket
// makes no structural change. It walks the connected component of
// SubBuckets reachable through matching edges crossing BucketSets and
// reports their current membership, so a re-queued card's second pass
// is idempotent (spec.md §8 R2) but still detects a concurrent
// structural change via the Context's watches.
//
// ingest (spec.md §4.6 steps 2-7): a card with no SubBucket yet is
// looked up in the Evidence store, normalized into sentences, matched
// against the SentenceIndex, placed into the best-fit candidate
// SubBucket (or a new one of its own), resolved against
// SHOULD_MATCH/SHOULD_MERGE, and its sentence occurrences recorded.
//
// # Retry policy
//
// Only dedupe.ErrOptimisticConflict is retried — every other error,
// including a missing evidence row, escapes immediately wrapped in
// backoff.Permanent so the outer Retry call returns it unchanged
// (spec.md §7: "the Processor handles only OptimisticConflict by
// retry"). The backoff itself has no elapsed-time ceiling; spec.md §5
// leaves the decision to give up on a card to the driver, not the
// Processor.
package processor
