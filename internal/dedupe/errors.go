package dedupe

import "errors"

// Sentinel errors for the five kinds spec.md §7 names. Every layer above
// the KV store propagates these untouched (wrapped with %w for context);
// only the Processor retries on ErrOptimisticConflict — everything else
// escapes to the driver.
var (
	// ErrOptimisticConflict is raised when the KV layer's EXEC detects
	// that a watched key changed since the transaction began. Recovered
	// by retrying the whole unit of work from scratch.
	ErrOptimisticConflict = errors.New("dedupe: optimistic conflict, watched key changed")

	// ErrMissingCard means the evidence store has no fulltext for a
	// card ID. Fatal for that card; the driver may drop or log it.
	ErrMissingCard = errors.New("dedupe: evidence store has no fulltext for card")

	// ErrCorruptShard means a sentence shard's byte length is not a
	// multiple of 11 (the packed record size). Fatal: the append-only
	// invariant has been violated.
	ErrCorruptShard = errors.New("dedupe: sentence shard length is not a multiple of 11 bytes")

	// ErrInvalidHashKey means a SubBucket hash was parsed and an
	// unrecognized field prefix was found (neither "bs", "c<id>" nor
	// "m<id>").
	ErrInvalidHashKey = errors.New("dedupe: unrecognized subbucket hash field")

	// ErrInfrastructure wraps connection/transport failures from the KV
	// store or evidence store. Surfaced, never retried here.
	ErrInfrastructure = errors.New("dedupe: infrastructure error")
)
