package sentence

import (
	"crypto/md5" //nolint:gosec // not used for security, only for bucket distribution
	"encoding/hex"
)

// Fingerprint is the (bucketKey, subKey) pair derived from a normalized
// sentence's MD5 digest (spec.md §3).
type Fingerprint struct {
	// BucketKey selects the shard (the top 20 bits of the digest, as 5
	// hex characters).
	BucketKey string
	// SubKey disambiguates within the shard (the next 40 bits, as 10
	// hex characters). Collisions are possible and tolerated; the
	// Matcher re-validates by positional overlap.
	SubKey string
}

// Compute returns the fingerprint of an already-normalized sentence.
// Callers must normalize first (internal/normalize); this function does
// no cleanup of its own.
func Compute(sentence string) Fingerprint {
	sum := md5.Sum([]byte(sentence)) //nolint:gosec
	hexDigest := hex.EncodeToString(sum[:])
	return Fingerprint{
		BucketKey: hexDigest[:5],
		SubKey:    hexDigest[5:15],
	}
}
