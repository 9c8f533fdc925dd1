package cardlen

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/kvstore"
)

func hashKey(prefix string, id dedupe.CardID) string {
	return fmt.Sprintf("%s:C:%d", prefix, id)
}

// LengthRepo is the CardLength store (spec.md §4.3, C3): cardId -> its
// normalized sentence count, written once and immutable thereafter. It
// shares the "C:<cardId>" hash with CardSubBucketRepo but only ever
// touches the "l" field, so the two repos can save independently in the
// fixed order Context.finish requires without clobbering each other's
// dirty set.
type LengthRepo struct {
	tx     kvstore.Tx
	prefix string

	cache map[dedupe.CardID]int
	dirty map[dedupe.CardID]int
}

// NewLengthRepo returns a LengthRepo bound to tx.
func NewLengthRepo(tx kvstore.Tx, prefix string) *LengthRepo {
	return &LengthRepo{
		tx:     tx,
		prefix: prefix,
		cache:  make(map[dedupe.CardID]int),
		dirty:  make(map[dedupe.CardID]int),
	}
}

// Get returns the normalized sentence count for id, and whether it has
// ever been recorded. Reads WATCH the card's hash key on first access.
func (r *LengthRepo) Get(ctx context.Context, id dedupe.CardID) (int, bool, error) {
	if n, ok := r.cache[id]; ok {
		return n, true, nil
	}
	h, err := r.tx.GetHash(ctx, hashKey(r.prefix, id))
	if err != nil {
		return 0, false, err
	}
	raw, ok := h["l"]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%w: card %d field l=%q", dedupe.ErrInvalidHashKey, id, raw)
	}
	r.cache[id] = n
	return n, true, nil
}

// Set records id's normalized sentence count. spec.md §3 says this field
// is written once per card and immutable thereafter; callers are
// responsible for only calling Set on first ingestion.
func (r *LengthRepo) Set(id dedupe.CardID, length int) {
	r.cache[id] = length
	r.dirty[id] = length
}

// Save queues hash-field writes for every card whose length was set
// during this unit of work.
func (r *LengthRepo) Save() {
	for id, length := range r.dirty {
		r.tx.Queue(kvstore.SetHashFields(hashKey(r.prefix, id), map[string]string{
			"l": strconv.Itoa(length),
		}))
	}
	r.dirty = make(map[dedupe.CardID]int)
}

// SubBucketRepo is the CardSubBucket map (spec.md §4.3, C4): cardId ->
// the SubBucket currently containing it, or none. Exactly one owner at
// a time (spec.md invariant).
type SubBucketRepo struct {
	tx     kvstore.Tx
	prefix string

	cache map[dedupe.CardID]dedupe.SubBucketKey
	known map[dedupe.CardID]bool // true once this card's "sb" field has been read or written
	dirty map[dedupe.CardID]bool
	clear map[dedupe.CardID]bool // cards whose "sb" field must be deleted (card removed from bucket)
}

// NewSubBucketRepo returns a SubBucketRepo bound to tx.
func NewSubBucketRepo(tx kvstore.Tx, prefix string) *SubBucketRepo {
	return &SubBucketRepo{
		tx:     tx,
		prefix: prefix,
		cache:  make(map[dedupe.CardID]dedupe.SubBucketKey),
		known:  make(map[dedupe.CardID]bool),
		dirty:  make(map[dedupe.CardID]bool),
		clear:  make(map[dedupe.CardID]bool),
	}
}

// Get returns the SubBucket currently owning id, if any.
func (r *SubBucketRepo) Get(ctx context.Context, id dedupe.CardID) (dedupe.SubBucketKey, bool, error) {
	if r.known[id] {
		key, ok := r.cache[id]
		return key, ok, nil
	}
	h, err := r.tx.GetHash(ctx, hashKey(r.prefix, id))
	if err != nil {
		return 0, false, err
	}
	r.known[id] = true
	raw, ok := h["sb"]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%w: card %d field sb=%q", dedupe.ErrInvalidHashKey, id, raw)
	}
	key := dedupe.SubBucketKey(n)
	r.cache[id] = key
	return key, true, nil
}

// Set registers id as owned by key.
func (r *SubBucketRepo) Set(id dedupe.CardID, key dedupe.SubBucketKey) {
	r.known[id] = true
	r.cache[id] = key
	delete(r.clear, id)
	r.dirty[id] = true
}

// Clear removes id's owning SubBucket, e.g. when the card is evicted and
// re-enqueued for reprocessing (spec.md §3 "Lifecycles").
func (r *SubBucketRepo) Clear(id dedupe.CardID) {
	r.known[id] = true
	delete(r.cache, id)
	delete(r.dirty, id)
	r.clear[id] = true
}

// Save queues the writes and deletes accumulated this unit of work.
func (r *SubBucketRepo) Save() {
	for id := range r.dirty {
		r.tx.Queue(kvstore.SetHashFields(hashKey(r.prefix, id), map[string]string{
			"sb": strconv.Itoa(int(r.cache[id])),
		}))
	}
	for id := range r.clear {
		r.tx.Queue(kvstore.DeleteHashFields(hashKey(r.prefix, id), "sb"))
	}
	r.dirty = make(map[dedupe.CardID]bool)
	r.clear = make(map[dedupe.CardID]bool)
}
