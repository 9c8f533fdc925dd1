package dedupe

// CardID identifies an atomic text record being clustered. Cards are
// assigned positive integer identifiers by the evidence store; zero is
// never a valid card.
type CardID int64

// SentenceIdx is the zero-based position of a normalized sentence within
// a card's fulltext, in normalization order.
type SentenceIdx int

// SubBucketKey identifies a SubBucket. Keys are dynamic: a SubBucket's
// key is always min(cards.keys), recomputed on every membership change
// (see graph.Engine.PropagateKey).
type SubBucketKey CardID

// BucketSetKey identifies a BucketSet. Like SubBucketKey, it is dynamic:
// always min(subBucketIds).
type BucketSetKey SubBucketKey

// CardSet is the aggregate view of a collection of SubBuckets used by
// the SHOULD_MERGE predicate (spec.md §4.5, "Aggregate predicates").
// Two or more SubBuckets are flattened into one CardSet before
// shouldMerge is evaluated between a candidate member and the rest.
type CardSet struct {
	// Matching sums, for every card in any constituent SubBucket's
	// matching map, how many of the union's members that card matches
	// (SubBucket.matching summed across the constituent SubBuckets). A
	// card that is a member of one constituent can still appear here
	// through another constituent's matching map.
	Matching map[CardID]int
	// Members is the union of cards.keys across the constituent
	// SubBuckets.
	Members map[CardID]struct{}
}

// Size is |CardSet.Members|.
func (s CardSet) Size() int {
	return len(s.Members)
}

// ShouldMatch implements spec.md's SHOULD_MATCH(m, t) = m/t > 0.5.
// t == 0 is never satisfied (there is nothing to match against).
func ShouldMatch(m, t int) bool {
	if t <= 0 {
		return false
	}
	return float64(m)/float64(t) > 0.5
}

// ShouldMerge implements spec.md's SHOULD_MERGE(m, t) = m > 5 || m/t >= 0.2.
// t == 0 is never satisfied.
func ShouldMerge(m, t int) bool {
	if m > 5 {
		return true
	}
	if t <= 0 {
		return false
	}
	return float64(m)/float64(t) >= 0.2
}

// ShouldMergeSets evaluates spec.md's shouldMerge(A, B): the fraction of
// B's members that A finds SHOULD_MERGE-worthy must itself clear
// SHOULD_MERGE against B's size. This is the asymmetric, recursive test
// BucketSet.resolve and SubBucket.resolveUpdates use to decide whether
// two families are really one.
func ShouldMergeSets(a, b CardSet) bool {
	qualifying := 0
	for member := range b.Members {
		if ShouldMerge(a.Matching[member], a.Size()) {
			qualifying++
		}
	}
	return ShouldMerge(qualifying, b.Size())
}
