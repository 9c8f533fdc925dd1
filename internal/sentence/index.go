package sentence

import (
	"context"
	"fmt"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/kvstore"
)

// Index is the SentenceIndex of spec.md §4.2, bound to one Tx for the
// lifetime of a single card's unit of work. It lazily loads shards on
// first read (which also WATCHes them, via Tx.GetString) and buffers
// new occurrences in memory until Save queues the batched append.
type Index struct {
	tx     kvstore.Tx
	prefix string

	loaded  map[string][]Occurrence // bucketKey -> parsed shard contents
	pending map[string][]byte       // bucketKey -> buffered new records
}

// New returns a SentenceIndex bound to tx. prefix is the KV key prefix
// (spec.md §6).
func New(tx kvstore.Tx, prefix string) *Index {
	return &Index{
		tx:      tx,
		prefix:  prefix,
		loaded:  make(map[string][]Occurrence),
		pending: make(map[string][]byte),
	}
}

func (idx *Index) shardKey(bucketKey string) string {
	return fmt.Sprintf("%s:S:%s", idx.prefix, bucketKey)
}

// Fetch loads (and caches) the shard for every distinct fingerprint
// among sentences, then returns, per sentence, the occurrences whose
// subKey matches — the "Readers filter by subKey" behavior from spec.md
// §3. Sentences sharing a bucketKey only fetch and parse that shard
// once, and a shard already fetched earlier in this Tx is never
// re-fetched. Occurrences buffered by AddOccurrence are not part of
// Fetch's results.
func (idx *Index) Fetch(ctx context.Context, sentences []string) (map[string][]Occurrence, error) {
	result := make(map[string][]Occurrence, len(sentences))

	for _, s := range sentences {
		fp := Compute(s)
		if _, ok := idx.loaded[fp.BucketKey]; !ok {
			raw, err := idx.tx.GetString(ctx, idx.shardKey(fp.BucketKey))
			if err != nil {
				return nil, err
			}
			occs, err := unpackShard(raw)
			if err != nil {
				return nil, err
			}
			idx.loaded[fp.BucketKey] = occs
		}

		var matches []Occurrence
		for _, occ := range idx.loaded[fp.BucketKey] {
			if occ.SubKey == fp.SubKey {
				matches = append(matches, occ)
			}
		}
		result[s] = matches
	}

	return result, nil
}

// AddOccurrence buffers a new occurrence for sentence, to be flushed by
// Save. It does not mutate the KV store until Save queues the batched
// append on the Tx.
func (idx *Index) AddOccurrence(sentence string, cardID dedupe.CardID, sentenceIdx dedupe.SentenceIdx) error {
	fp := Compute(sentence)
	rec, err := packRecord(fp.SubKey, cardID, sentenceIdx)
	if err != nil {
		return err
	}
	idx.pending[fp.BucketKey] = append(idx.pending[fp.BucketKey], rec...)
	return nil
}

// Save queues one batched append per shard with pending additions
// (spec.md §4.2 "save"). Call once, after all of a card's occurrences
// have been added, before the owning Context commits.
func (idx *Index) Save() {
	for bucketKey, data := range idx.pending {
		idx.tx.Queue(kvstore.AppendString(idx.shardKey(bucketKey), data))
	}
	idx.pending = make(map[string][]byte)
}
