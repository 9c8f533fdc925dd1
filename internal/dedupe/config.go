package dedupe

// Config holds the tunables enumerated in spec.md §6. Zero values are
// never valid configuration; callers should start from Defaults() and
// override only what they need, the way viper.Unmarshal fills a struct
// seeded with defaults (see cmd/dedupe-worker for the viper wiring).
type Config struct {
	// KeyPrefix is prepended to every KV key (spec.md §6 "all keys
	// share a configurable prefix").
	KeyPrefix string

	// EdgeTolerance is the slack allowed when testing whether the head
	// of one card aligns with the tail of another ("edge" overlap).
	EdgeTolerance int
	// InsideTolerance is the slack allowed when testing whether one
	// card lies almost entirely inside another ("inside" overlap).
	InsideTolerance int
	// SentenceCutoff drops normalized sentence fragments shorter than
	// this many characters.
	SentenceCutoff int
	// SentenceShardBits is the width of the bucketKey taken from the
	// top of a sentence fingerprint's MD5 digest.
	SentenceShardBits int
	// ConcurrentDeduplication bounds the isolated-connection pool size
	// (spec.md §5 "Shared resource policy").
	ConcurrentDeduplication int
}

// Defaults returns the tunables from spec.md §6: EDGE_TOLERANCE=1,
// INSIDE_TOLERANCE=2, SENTENCE_CUTOFF=20, CONCURRENT_DEDUPLICATION=10,
// SENTENCE_SHARD_BITS=20.
func Defaults() Config {
	return Config{
		KeyPrefix:               "dedupe",
		EdgeTolerance:           1,
		InsideTolerance:         2,
		SentenceCutoff:          20,
		SentenceShardBits:       20,
		ConcurrentDeduplication: 10,
	}
}
