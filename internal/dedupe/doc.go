// Package dedupe holds the types, predicates, and tunables shared across
// the deduplication engine: card and entity identifiers, the SHOULD_MATCH
// and SHOULD_MERGE predicates that drive clustering decisions, and the
// sentinel errors every layer above the KV store propagates.
//
// # Overview
//
// The engine clusters cards (long text records) into SubBuckets (tight
// near-duplicate clusters) which are themselves grouped into BucketSets
// (looser families). Nothing in this package touches storage; it is the
// vocabulary the rest of internal/* packages share so that graph,
// matcher, and uow agree on what a "match" means without importing each
// other.
//
// # Predicates
//
//	SHOULD_MATCH(m, t)  = m/t > 0.5
//	SHOULD_MERGE(m, t)  = m > 5 || m/t >= 0.2
//
// SHOULD_MATCH decides whether a card belongs inside a SubBucket (and
// whether a SubBucket member still deserves to stay). SHOULD_MERGE
// decides whether two BucketSets are the same loose family; it is
// evaluated per-member then on the resulting count, which is why it is
// deliberately looser than SHOULD_MATCH.
package dedupe
