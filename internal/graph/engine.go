package graph

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/dreamware/carddedupe/internal/cardlen"
	"github.com/dreamware/carddedupe/internal/dedupe"
)

// MatchSource re-derives the matches for a card already known to the
// engine, without requiring the caller to re-supply its sentences.
// SubBucket.removeCard (spec.md §4.4) uses this to recompute the
// counters its eviction invalidates. Implemented in internal/processor
// by an adapter over matcher.Matcher.
type MatchSource interface {
	Matches(ctx context.Context, id dedupe.CardID) ([]dedupe.CardID, error)
}

// Queue is the re-enqueue capability spec.md §9 "Re-queue on removal"
// requires the core to expose: a card evicted from a SubBucket goes
// back onto the ingestion queue for reprocessing rather than being
// reclustered synchronously. Implemented by internal/queue.
type Queue interface {
	Enqueue(ctx context.Context, id dedupe.CardID) error
}

// Engine implements every SubBucket and BucketSet operation in spec.md
// §4.4-§4.5. See doc.go for why both entities' behavior lives here
// instead of two packages.
type Engine struct {
	SubBuckets     *SubBucketRepo
	BucketSets     *BucketSetRepo
	CardSubBuckets *cardlen.SubBucketRepo
	Matcher        MatchSource
	Queue          Queue
	Log            *zap.SugaredLogger
}

// AddCard implements SubBucket.addCard (spec.md §4.4). Returns the
// SubBucket's key after any rename triggered by the new minimum member.
func (e *Engine) AddCard(ctx context.Context, sbKey dedupe.SubBucketKey, id dedupe.CardID, externalMatches []dedupe.CardID) (dedupe.SubBucketKey, error) {
	sb, ok, err := e.SubBuckets.Get(ctx, sbKey)
	if err != nil {
		return sbKey, err
	}
	if !ok {
		return sbKey, nil
	}
	if _, exists := sb.Cards[id]; exists {
		e.Log.Warnw("card already in subbucket, ignoring add", "card", id, "subbucket", sbKey)
		return sbKey, nil
	}

	delete(sb.Matching, id)
	sb.Cards[id] = 1
	for _, m := range externalMatches {
		if _, isMember := sb.Cards[m]; isMember {
			sb.Cards[id]++
			sb.Cards[m]++
		} else {
			sb.Matching[m]++
		}
	}

	e.CardSubBuckets.Set(id, sbKey)
	e.SubBuckets.MarkDirty(sbKey)
	return e.PropagateKey(ctx, sbKey)
}

// SetMatches implements SubBucket.setMatches (spec.md §4.4): overwrite
// the visibility count for a non-member card ahead of a possible add.
func (e *Engine) SetMatches(ctx context.Context, sbKey dedupe.SubBucketKey, id dedupe.CardID, externalMatches []dedupe.CardID) error {
	sb, ok, err := e.SubBuckets.Get(ctx, sbKey)
	if err != nil || !ok {
		return err
	}
	matchSet := make(map[dedupe.CardID]struct{}, len(externalMatches))
	for _, m := range externalMatches {
		matchSet[m] = struct{}{}
	}
	count := 0
	for member := range sb.Cards {
		if _, ok := matchSet[member]; ok {
			count++
		}
	}
	sb.Matching[id] = count
	e.SubBuckets.MarkDirty(sbKey)
	return nil
}

// RemoveCard implements SubBucket.removeCard (spec.md §4.4): evicts id,
// re-derives its matches to decrement the counters it contributed to,
// re-enqueues it for reprocessing, and propagates the resulting key
// change. Returns the SubBucket's resulting key and whether it was
// destroyed (emptied) as a result.
func (e *Engine) RemoveCard(ctx context.Context, sbKey dedupe.SubBucketKey, id dedupe.CardID) (dedupe.SubBucketKey, bool, error) {
	sb, ok, err := e.SubBuckets.Get(ctx, sbKey)
	if err != nil {
		return sbKey, false, err
	}
	if !ok {
		return sbKey, true, nil
	}

	delete(sb.Cards, id)
	e.CardSubBuckets.Clear(id)

	matches, err := e.Matcher.Matches(ctx, id)
	if err != nil {
		return sbKey, false, err
	}
	for _, m := range matches {
		if cnt, isMember := sb.Cards[m]; isMember {
			cnt--
			if cnt <= 0 {
				delete(sb.Cards, m)
			} else {
				sb.Cards[m] = cnt
			}
		} else if cnt, ok := sb.Matching[m]; ok {
			cnt--
			if cnt <= 0 {
				delete(sb.Matching, m)
			} else {
				sb.Matching[m] = cnt
			}
		}
	}
	e.SubBuckets.MarkDirty(sbKey)

	if err := e.Queue.Enqueue(ctx, id); err != nil {
		return sbKey, false, err
	}

	wasEmpty := len(sb.Cards) == 0
	newKey, err := e.PropagateKey(ctx, sbKey)
	if err != nil {
		return newKey, wasEmpty, err
	}
	return newKey, wasEmpty, nil
}

// PropagateKey implements SubBucket.propagateKey (spec.md §4.4). Returns
// 0 if the SubBucket was emptied and destroyed.
func (e *Engine) PropagateKey(ctx context.Context, sbKey dedupe.SubBucketKey) (dedupe.SubBucketKey, error) {
	sb, ok, err := e.SubBuckets.Get(ctx, sbKey)
	if err != nil || !ok {
		return sbKey, err
	}

	if len(sb.Cards) == 0 {
		if _, err := e.RemoveSubBucket(ctx, sb.BucketSetKey, sbKey); err != nil {
			return 0, err
		}
		e.SubBuckets.Delete(sbKey)
		return 0, nil
	}

	newKey := dedupe.SubBucketKey(minCardID(sb.Cards))
	if newKey == sbKey {
		e.SubBuckets.MarkDirty(sbKey)
		return sbKey, nil
	}

	oldBSKey := sb.BucketSetKey
	e.SubBuckets.Rename(sbKey, newKey)
	sb.Key = newKey
	for cardID := range sb.Cards {
		e.CardSubBuckets.Set(cardID, newKey)
	}
	if err := e.renameMemberInSet(ctx, oldBSKey, sbKey, newKey, sb); err != nil {
		return newKey, err
	}
	return newKey, nil
}

// renameMemberInSet updates the BucketSet bsKey's membership to reflect
// a SubBucket's key change, including the singleton case (never
// persisted: the BucketSet's own key simply tracks its one member).
func (e *Engine) renameMemberInSet(ctx context.Context, bsKey dedupe.BucketSetKey, oldKey, newKey dedupe.SubBucketKey, sb *SubBucket) error {
	bs, ok, err := e.BucketSets.Get(ctx, bsKey)
	if err != nil {
		return err
	}
	if !ok {
		sb.BucketSetKey = dedupe.BucketSetKey(newKey)
		return nil
	}
	delete(bs.SubBucketKeys, oldKey)
	bs.SubBucketKeys[newKey] = struct{}{}
	e.BucketSets.MarkDirty(bsKey)
	_, err = e.PropagateSetKey(ctx, bsKey)
	return err
}

// DoesBucketMatch implements SubBucket.doesBucketMatch (spec.md §4.4).
func (e *Engine) DoesBucketMatch(sb *SubBucket, externalMatches []dedupe.CardID) bool {
	set := make(map[dedupe.CardID]struct{}, len(externalMatches))
	for _, m := range externalMatches {
		set[m] = struct{}{}
	}
	count := 0
	for member := range sb.Cards {
		if _, ok := set[member]; ok {
			count++
		}
	}
	return dedupe.ShouldMatch(count, len(sb.Cards))
}

// ResolveRemoves implements SubBucket.resolveRemoves (spec.md §4.4): the
// first member (in card-id order, for determinism) that fails
// SHOULD_MATCH is evicted, and the scan restarts against the shrunk
// bucket. Returns the bucket's final key (0 if it was destroyed) and
// whether anything was removed.
func (e *Engine) ResolveRemoves(ctx context.Context, sbKey dedupe.SubBucketKey) (dedupe.SubBucketKey, bool, error) {
	removedAny := false
	for {
		sb, ok, err := e.SubBuckets.Get(ctx, sbKey)
		if err != nil || !ok {
			return sbKey, removedAny, err
		}

		total := len(sb.Cards)
		violator, found := dedupe.CardID(0), false
		for _, id := range sortedCardIDs(sb.Cards) {
			if !dedupe.ShouldMatch(sb.Cards[id], total) {
				violator, found = id, true
				break
			}
		}
		if !found {
			return sbKey, removedAny, nil
		}

		newKey, destroyed, err := e.RemoveCard(ctx, sbKey, violator)
		if err != nil {
			return sbKey, removedAny, err
		}
		removedAny = true
		if destroyed {
			return 0, removedAny, nil
		}
		sbKey = newKey
	}
}

// ResolveUpdates implements SubBucket.resolveUpdates (spec.md §4.4).
func (e *Engine) ResolveUpdates(ctx context.Context, sbKey dedupe.SubBucketKey, candidates []dedupe.CardID) (dedupe.SubBucketKey, error) {
	sb, ok, err := e.SubBuckets.Get(ctx, sbKey)
	if err != nil || !ok {
		return sbKey, err
	}

	foreign := make(map[dedupe.BucketSetKey]struct{})
	for _, cand := range candidates {
		if _, isMember := sb.Cards[cand]; isMember {
			continue
		}
		candSBKey, ok, err := e.CardSubBuckets.Get(ctx, cand)
		if err != nil {
			return sbKey, err
		}
		if !ok {
			continue
		}
		candSB, ok, err := e.SubBuckets.Get(ctx, candSBKey)
		if err != nil || !ok {
			continue
		}
		if candSB.BucketSetKey == sb.BucketSetKey {
			continue
		}
		foreign[candSB.BucketSetKey] = struct{}{}
	}

	thisSet, err := e.cardSetOf(ctx, sb.BucketSetKey)
	if err != nil {
		return sbKey, err
	}

	for _, fKey := range sortedBucketSetKeys(foreign) {
		foreignSet, err := e.cardSetOf(ctx, fKey)
		if err != nil {
			return sbKey, err
		}
		if dedupe.ShouldMergeSets(thisSet, foreignSet) {
			if _, err := e.Merge(ctx, sb.BucketSetKey, fKey); err != nil {
				return sbKey, err
			}
			sb, ok, err = e.SubBuckets.Get(ctx, sbKey)
			if err != nil || !ok {
				return sbKey, err
			}
			return e.ResolveUpdates(ctx, sbKey, matchingKeys(sb.Matching))
		}
	}
	return sbKey, nil
}

// Resolve implements SubBucket.resolve (spec.md §4.4): the full
// stabilization pass run after a card is added to or updated within
// this SubBucket.
func (e *Engine) Resolve(ctx context.Context, sbKey dedupe.SubBucketKey, updates []dedupe.CardID) (dedupe.SubBucketKey, error) {
	sbKey, removedAny, err := e.ResolveRemoves(ctx, sbKey)
	if err != nil || sbKey == 0 {
		return sbKey, err
	}

	sb, ok, err := e.SubBuckets.Get(ctx, sbKey)
	if err != nil || !ok {
		return sbKey, err
	}

	bsChanged, err := e.ResolveSet(ctx, sb.BucketSetKey)
	if err != nil {
		return sbKey, err
	}

	sb, ok, err = e.SubBuckets.Get(ctx, sbKey)
	if err != nil || !ok {
		return sbKey, err
	}

	var candidates []dedupe.CardID
	if removedAny || bsChanged {
		candidates = matchingKeys(sb.Matching)
	} else {
		candidates = intersectUpdates(updates, sb.Matching)
	}

	sbKey, err = e.ResolveUpdates(ctx, sbKey, candidates)
	if err != nil {
		return sbKey, err
	}
	return e.PropagateKey(ctx, sbKey)
}

// GetSet returns the BucketSet at bsKey, reconstituting a virtual
// singleton {bsKey} when nothing is persisted there (spec.md §9:
// single-member BucketSets are never persisted).
func (e *Engine) GetSet(ctx context.Context, bsKey dedupe.BucketSetKey) (*BucketSet, error) {
	bs, ok, err := e.BucketSets.Get(ctx, bsKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &BucketSet{Key: bsKey, SubBucketKeys: map[dedupe.SubBucketKey]struct{}{dedupe.SubBucketKey(bsKey): {}}}, nil
	}
	return bs, nil
}

// Merge implements BucketSet.merge (spec.md §4.5): absorb other's
// membership into self, reassign every member's bucketSetId, and
// propagate the resulting key. Returns self's resulting key.
func (e *Engine) Merge(ctx context.Context, selfKey, otherKey dedupe.BucketSetKey) (dedupe.BucketSetKey, error) {
	selfSet, err := e.GetSet(ctx, selfKey)
	if err != nil {
		return selfKey, err
	}
	otherSet, err := e.GetSet(ctx, otherKey)
	if err != nil {
		return selfKey, err
	}

	merged := make(map[dedupe.SubBucketKey]struct{}, len(selfSet.SubBucketKeys)+len(otherSet.SubBucketKeys))
	for k := range selfSet.SubBucketKeys {
		merged[k] = struct{}{}
	}
	for k := range otherSet.SubBucketKeys {
		merged[k] = struct{}{}
	}

	bs, ok, err := e.BucketSets.Get(ctx, selfKey)
	if err != nil {
		return selfKey, err
	}
	if !ok {
		e.BucketSets.New(selfKey, merged)
	} else {
		bs.SubBucketKeys = merged
		e.BucketSets.MarkDirty(selfKey)
	}

	if otherKey != selfKey {
		if _, ok, err := e.BucketSets.Get(ctx, otherKey); err == nil && ok {
			e.BucketSets.Delete(otherKey)
		}
	}

	for member := range merged {
		msb, ok, err := e.SubBuckets.Get(ctx, member)
		if err != nil {
			return selfKey, err
		}
		if !ok {
			continue
		}
		msb.BucketSetKey = selfKey
		e.SubBuckets.MarkDirty(member)
	}

	return e.PropagateSetKey(ctx, selfKey)
}

// RemoveSubBucket implements BucketSet.removeSubBucket (spec.md §4.5):
// drop sbKey from bsKey's membership, give sbKey a fresh singleton
// BucketSet, and let it try to re-attach anywhere its remaining
// external matches now fit. Returns the (possibly renamed) key of the
// BucketSet sbKey was removed from.
func (e *Engine) RemoveSubBucket(ctx context.Context, bsKey dedupe.BucketSetKey, sbKey dedupe.SubBucketKey) (dedupe.BucketSetKey, error) {
	newBSKey := bsKey
	bs, ok, err := e.BucketSets.Get(ctx, bsKey)
	if err != nil {
		return bsKey, err
	}
	if ok {
		delete(bs.SubBucketKeys, sbKey)
		e.BucketSets.MarkDirty(bsKey)
		newBSKey, err = e.PropagateSetKey(ctx, bsKey)
		if err != nil {
			return newBSKey, err
		}
	}

	sb, ok, err := e.SubBuckets.Get(ctx, sbKey)
	if err != nil || !ok {
		return newBSKey, err
	}
	sb.BucketSetKey = dedupe.BucketSetKey(sbKey)
	e.SubBuckets.MarkDirty(sbKey)

	if _, err := e.ResolveUpdates(ctx, sbKey, matchingKeys(sb.Matching)); err != nil {
		return newBSKey, err
	}
	return newBSKey, nil
}

// ResolveSet implements BucketSet.resolve (spec.md §4.5): evict any
// member that fails the SHOULD_MERGE test against the union of the
// rest, recursing until the set is stable. Returns whether anything was
// removed.
func (e *Engine) ResolveSet(ctx context.Context, bsKey dedupe.BucketSetKey) (bool, error) {
	removedAny := false
	for {
		bs, ok, err := e.BucketSets.Get(ctx, bsKey)
		if err != nil || !ok || len(bs.SubBucketKeys) <= 1 {
			return removedAny, err
		}

		var evict dedupe.SubBucketKey
		found := false
		for _, m := range sortedSubBucketKeys(bs.SubBucketKeys) {
			memberSet, err := e.cardSetOfMembers(ctx, map[dedupe.SubBucketKey]struct{}{m: {}})
			if err != nil {
				return removedAny, err
			}
			remaining := make(map[dedupe.SubBucketKey]struct{}, len(bs.SubBucketKeys)-1)
			for k := range bs.SubBucketKeys {
				if k != m {
					remaining[k] = struct{}{}
				}
			}
			remainingSet, err := e.cardSetOfMembers(ctx, remaining)
			if err != nil {
				return removedAny, err
			}
			if !dedupe.ShouldMergeSets(remainingSet, memberSet) {
				evict, found = m, true
				break
			}
		}
		if !found {
			return removedAny, nil
		}

		newBSKey, err := e.RemoveSubBucket(ctx, bsKey, evict)
		if err != nil {
			return removedAny, err
		}
		removedAny = true
		bsKey = newBSKey
	}
}

// PropagateSetKey implements BucketSet.propagateKey (spec.md §4.5).
func (e *Engine) PropagateSetKey(ctx context.Context, bsKey dedupe.BucketSetKey) (dedupe.BucketSetKey, error) {
	bs, ok, err := e.BucketSets.Get(ctx, bsKey)
	if err != nil || !ok {
		return bsKey, err
	}

	newKey := minBucketSetMember(bs.SubBucketKeys)
	if newKey == bsKey {
		e.BucketSets.MarkDirty(bsKey)
		return bsKey, nil
	}

	e.BucketSets.Rename(bsKey, newKey)
	bs.Key = newKey
	for member := range bs.SubBucketKeys {
		msb, ok, err := e.SubBuckets.Get(ctx, member)
		if err != nil {
			return newKey, err
		}
		if !ok {
			continue
		}
		msb.BucketSetKey = newKey
		e.SubBuckets.MarkDirty(member)
	}
	return newKey, nil
}

func (e *Engine) cardSetOf(ctx context.Context, bsKey dedupe.BucketSetKey) (dedupe.CardSet, error) {
	bs, err := e.GetSet(ctx, bsKey)
	if err != nil {
		return dedupe.CardSet{}, err
	}
	return e.cardSetOfMembers(ctx, bs.SubBucketKeys)
}

func (e *Engine) cardSetOfMembers(ctx context.Context, members map[dedupe.SubBucketKey]struct{}) (dedupe.CardSet, error) {
	cs := dedupe.CardSet{Members: make(map[dedupe.CardID]struct{}), Matching: make(map[dedupe.CardID]int)}
	for sbKey := range members {
		sb, ok, err := e.SubBuckets.Get(ctx, sbKey)
		if err != nil {
			return dedupe.CardSet{}, err
		}
		if !ok {
			continue
		}
		for id := range sb.Cards {
			cs.Members[id] = struct{}{}
		}
		for id, cnt := range sb.Matching {
			cs.Matching[id] += cnt
		}
	}
	return cs, nil
}

func minCardID(cards map[dedupe.CardID]int) dedupe.CardID {
	first := true
	var min dedupe.CardID
	for id := range cards {
		if first || id < min {
			min = id
			first = false
		}
	}
	return min
}

func minBucketSetMember(members map[dedupe.SubBucketKey]struct{}) dedupe.BucketSetKey {
	first := true
	var min dedupe.SubBucketKey
	for id := range members {
		if first || id < min {
			min = id
			first = false
		}
	}
	return dedupe.BucketSetKey(min)
}

func sortedCardIDs(cards map[dedupe.CardID]int) []dedupe.CardID {
	out := make([]dedupe.CardID, 0, len(cards))
	for id := range cards {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedSubBucketKeys(keys map[dedupe.SubBucketKey]struct{}) []dedupe.SubBucketKey {
	out := make([]dedupe.SubBucketKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedBucketSetKeys(keys map[dedupe.BucketSetKey]struct{}) []dedupe.BucketSetKey {
	out := make([]dedupe.BucketSetKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func matchingKeys(matching map[dedupe.CardID]int) []dedupe.CardID {
	out := make([]dedupe.CardID, 0, len(matching))
	for id := range matching {
		out = append(out, id)
	}
	return out
}

func intersectUpdates(updates []dedupe.CardID, matching map[dedupe.CardID]int) []dedupe.CardID {
	var out []dedupe.CardID
	for _, id := range updates {
		if _, ok := matching[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
