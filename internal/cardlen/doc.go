// Package cardlen implements the CardLength store (spec.md §4.2-
// adjacent C3) and the CardSubBucket map (C4): two small repositories
// that both read and write the same per-card KV hash, "C:<cardId>",
// whose fields are "l" (normalized sentence count) and "sb" (owning
// SubBucket key, absent if the card has none).
//
// They are kept as two repositories — not one — because spec.md §3
// describes them as two entities with independent lifecycles: CardLength
// is written once and is immutable thereafter, while CardSubBucket is
// updated every time a card moves between SubBuckets and cleared when a
// card is evicted pending re-queue. Each repo tracks its own dirty set
// over its own fields of the shared hash so Context.finish can save them
// in the fixed order spec.md §4.7 requires without one repo's save
// clobbering the other's uncommitted field.
package cardlen
