// Package sentence implements the sentence fingerprint (spec.md §3) and
// the SentenceIndex (spec.md §4.2): the sharded, append-only map from a
// normalized sentence to every (cardId, sentenceIndex) occurrence of it
// seen so far.
//
// # Fingerprint
//
// A sentence's MD5 digest, hex-encoded, splits cleanly along hex-digit
// boundaries: the first 5 hex characters (20 bits) are the bucketKey
// that selects a shard; the next 10 hex characters (40 bits) are the
// subKey stored alongside each occurrence so readers can filter out
// same-shard collisions without keeping the full digest. The remaining
// 68 bits of the digest are discarded.
//
// # Shard format
//
// Each shard is one KV string key holding the concatenation of 11-byte
// records: subKey (5 bytes) ‖ cardId (4 bytes, big-endian) ‖
// sentenceIndex (2 bytes, big-endian). The format is append-only; a
// shard whose byte length isn't a multiple of 11 is corrupt
// (dedupe.ErrCorruptShard).
package sentence
