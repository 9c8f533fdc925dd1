package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/kvstore"
)

// SubBucket is a tight near-duplicate cluster (spec.md §3, §4.4). Cards
// is internalMatchCount per member; Matching is externalMatchCount per
// non-member. Key is always kept equal to min(Cards.keys) by Engine's
// PropagateKey — callers must not set it directly once a SubBucket is
// loaded.
type SubBucket struct {
	Key          dedupe.SubBucketKey
	BucketSetKey dedupe.BucketSetKey
	Cards        map[dedupe.CardID]int
	Matching     map[dedupe.CardID]int
}

func newSubBucket(key dedupe.SubBucketKey) *SubBucket {
	return &SubBucket{
		Key:          key,
		BucketSetKey: dedupe.BucketSetKey(key), // singleton set of itself until it grows
		Cards:        make(map[dedupe.CardID]int),
		Matching:     make(map[dedupe.CardID]int),
	}
}

func subBucketHashKey(prefix string, key dedupe.SubBucketKey) string {
	return fmt.Sprintf("%s:SB:%d", prefix, key)
}

func parseSubBucket(key dedupe.SubBucketKey, h map[string]string) (*SubBucket, error) {
	sb := &SubBucket{Key: key, Cards: make(map[dedupe.CardID]int), Matching: make(map[dedupe.CardID]int)}
	for field, raw := range h {
		switch {
		case field == "bs":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: subbucket %d field bs=%q", dedupe.ErrInvalidHashKey, key, raw)
			}
			sb.BucketSetKey = dedupe.BucketSetKey(n)
		case strings.HasPrefix(field, "c"):
			id, cnt, err := parseMemberField(field, raw, 'c')
			if err != nil {
				return nil, fmt.Errorf("%w: subbucket %d: %w", dedupe.ErrInvalidHashKey, key, err)
			}
			sb.Cards[id] = cnt
		case strings.HasPrefix(field, "m"):
			id, cnt, err := parseMemberField(field, raw, 'm')
			if err != nil {
				return nil, fmt.Errorf("%w: subbucket %d: %w", dedupe.ErrInvalidHashKey, key, err)
			}
			sb.Matching[id] = cnt
		default:
			return nil, fmt.Errorf("%w: subbucket %d unrecognized field %q", dedupe.ErrInvalidHashKey, key, field)
		}
	}
	return sb, nil
}

func parseMemberField(field, raw string, prefix byte) (dedupe.CardID, int, error) {
	idNum, err := strconv.Atoi(field[1:])
	if err != nil {
		return 0, 0, fmt.Errorf("bad %c-field %q", prefix, field)
	}
	cnt, err := strconv.Atoi(raw)
	if err != nil {
		return 0, 0, fmt.Errorf("bad value for %q: %q", field, raw)
	}
	return dedupe.CardID(idNum), cnt, nil
}

func serializeSubBucket(sb *SubBucket) map[string]string {
	fields := map[string]string{"bs": strconv.Itoa(int(sb.BucketSetKey))}
	for id, cnt := range sb.Cards {
		fields[fmt.Sprintf("c%d", id)] = strconv.Itoa(cnt)
	}
	for id, cnt := range sb.Matching {
		fields[fmt.Sprintf("m%d", id)] = strconv.Itoa(cnt)
	}
	return fields
}

// SubBucketRepo is the SubBucket repository: a cache over "SB:<key>" hash
// keys, tracking dirty/deleted/renamed entities for Context.finish.
type SubBucketRepo struct {
	tx     kvstore.Tx
	prefix string

	cache        map[dedupe.SubBucketKey]*SubBucket
	loadedFields map[dedupe.SubBucketKey]map[string]string // raw fields as last seen persisted, for diffing on save
	dirty        map[dedupe.SubBucketKey]bool
	deleted      map[dedupe.SubBucketKey]bool
}

// NewSubBucketRepo returns a SubBucketRepo bound to tx.
func NewSubBucketRepo(tx kvstore.Tx, prefix string) *SubBucketRepo {
	return &SubBucketRepo{
		tx:           tx,
		prefix:       prefix,
		cache:        make(map[dedupe.SubBucketKey]*SubBucket),
		loadedFields: make(map[dedupe.SubBucketKey]map[string]string),
		dirty:        make(map[dedupe.SubBucketKey]bool),
		deleted:      make(map[dedupe.SubBucketKey]bool),
	}
}

// Get returns the SubBucket at key, loading it from the KV store on
// first access within this unit of work. ok is false if no such
// SubBucket exists (never created, or deleted earlier this tx).
func (r *SubBucketRepo) Get(ctx context.Context, key dedupe.SubBucketKey) (*SubBucket, bool, error) {
	if sb, ok := r.cache[key]; ok {
		return sb, true, nil
	}
	if r.deleted[key] {
		return nil, false, nil
	}
	h, err := r.tx.GetHash(ctx, subBucketHashKey(r.prefix, key))
	if err != nil {
		return nil, false, err
	}
	if len(h) == 0 {
		return nil, false, nil
	}
	sb, err := parseSubBucket(key, h)
	if err != nil {
		return nil, false, err
	}
	r.cache[key] = sb
	r.loadedFields[key] = h
	return sb, true, nil
}

// New creates a fresh SubBucket rooted at key (spec.md §4.4: "created
// when a new card matches no existing bucket").
func (r *SubBucketRepo) New(key dedupe.SubBucketKey) *SubBucket {
	sb := newSubBucket(key)
	r.cache[key] = sb
	delete(r.deleted, key)
	r.dirty[key] = true
	return sb
}

// MarkDirty flags key for re-serialization at Save time.
func (r *SubBucketRepo) MarkDirty(key dedupe.SubBucketKey) {
	r.dirty[key] = true
}

// Delete removes a SubBucket that has become empty (spec.md §4.4
// "destroyed when it becomes empty").
func (r *SubBucketRepo) Delete(key dedupe.SubBucketKey) {
	delete(r.cache, key)
	delete(r.dirty, key)
	delete(r.loadedFields, key)
	r.deleted[key] = true
}

// Rename moves a cached SubBucket from oldKey to newKey (spec.md §9
// "Dynamic keys"): the entity itself is updated by the caller; Rename
// only moves the repo's bookkeeping so Save deletes the old KV key and
// writes a fresh one under newKey.
func (r *SubBucketRepo) Rename(oldKey, newKey dedupe.SubBucketKey) {
	sb := r.cache[oldKey]
	delete(r.cache, oldKey)
	delete(r.loadedFields, oldKey)
	delete(r.dirty, oldKey)
	r.deleted[oldKey] = true

	r.cache[newKey] = sb
	delete(r.deleted, newKey)
	r.dirty[newKey] = true
}

// DirtyKeys returns the SubBucket keys flagged for re-serialization this
// unit of work, before Save clears the set. Used by uow.Context.Finish
// to compute the touched-BucketSets summary spec.md §4.7 requires.
func (r *SubBucketRepo) DirtyKeys() []dedupe.SubBucketKey {
	out := make([]dedupe.SubBucketKey, 0, len(r.dirty))
	for k := range r.dirty {
		out = append(out, k)
	}
	return out
}

// Save queues writes for every dirty SubBucket (full field diff against
// what was last loaded, so shrinking maps issue field deletes) and
// DeleteKey for every one removed or renamed away this unit of work.
func (r *SubBucketRepo) Save() {
	for key := range r.dirty {
		sb := r.cache[key]
		if sb == nil {
			continue
		}
		newFields := serializeSubBucket(sb)
		old := r.loadedFields[key]
		var toDelete []string
		for f := range old {
			if _, ok := newFields[f]; !ok {
				toDelete = append(toDelete, f)
			}
		}
		hkey := subBucketHashKey(r.prefix, key)
		if len(newFields) > 0 {
			r.tx.Queue(kvstore.SetHashFields(hkey, newFields))
		}
		if len(toDelete) > 0 {
			r.tx.Queue(kvstore.DeleteHashFields(hkey, toDelete...))
		}
		r.loadedFields[key] = newFields
	}
	for key := range r.deleted {
		r.tx.Queue(kvstore.DeleteKey(subBucketHashKey(r.prefix, key)))
	}
	r.dirty = make(map[dedupe.SubBucketKey]bool)
	r.deleted = make(map[dedupe.SubBucketKey]bool)
}

// BucketSet is a loose family of SubBuckets (spec.md §3, §4.5). A
// BucketSet with a single member is never persisted (spec.md §9); such
// singletons are reconstituted virtually by Engine.GetSet.
type BucketSet struct {
	Key           dedupe.BucketSetKey
	SubBucketKeys map[dedupe.SubBucketKey]struct{}
}

func bucketSetSetKey(prefix string, key dedupe.BucketSetKey) string {
	return fmt.Sprintf("%s:BS:%d", prefix, key)
}

// BucketSetRepo is the BucketSet repository: a cache over "BS:<key>" set
// keys, tracking dirty/deleted entities for Context.finish. Singletons
// are never queued for persistence (spec.md §9); Save silently drops any
// dirty set that has shrunk to ≤1 member, deleting it from the KV store
// if it was previously persisted.
type BucketSetRepo struct {
	tx     kvstore.Tx
	prefix string

	cache       map[dedupe.BucketSetKey]*BucketSet
	loadedKeys  map[dedupe.BucketSetKey]map[dedupe.SubBucketKey]struct{}
	everFetched map[dedupe.BucketSetKey]bool
	dirty       map[dedupe.BucketSetKey]bool
	deleted     map[dedupe.BucketSetKey]bool
}

// NewBucketSetRepo returns a BucketSetRepo bound to tx.
func NewBucketSetRepo(tx kvstore.Tx, prefix string) *BucketSetRepo {
	return &BucketSetRepo{
		tx:          tx,
		prefix:      prefix,
		cache:       make(map[dedupe.BucketSetKey]*BucketSet),
		loadedKeys:  make(map[dedupe.BucketSetKey]map[dedupe.SubBucketKey]struct{}),
		everFetched: make(map[dedupe.BucketSetKey]bool),
		dirty:       make(map[dedupe.BucketSetKey]bool),
		deleted:     make(map[dedupe.BucketSetKey]bool),
	}
}

// Get returns the BucketSet persisted at key. ok is false when nothing
// is persisted there — either it was never a multi-member set (a
// singleton, never written) or it has been deleted this unit of work.
func (r *BucketSetRepo) Get(ctx context.Context, key dedupe.BucketSetKey) (*BucketSet, bool, error) {
	if bs, ok := r.cache[key]; ok {
		return bs, true, nil
	}
	if r.deleted[key] {
		return nil, false, nil
	}
	members, err := r.tx.GetSet(ctx, bucketSetSetKey(r.prefix, key))
	if err != nil {
		return nil, false, err
	}
	r.everFetched[key] = true
	if len(members) == 0 {
		return nil, false, nil
	}
	bs := &BucketSet{Key: key, SubBucketKeys: make(map[dedupe.SubBucketKey]struct{}, len(members))}
	loaded := make(map[dedupe.SubBucketKey]struct{}, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, false, fmt.Errorf("%w: bucketset %d member %q", dedupe.ErrInvalidHashKey, key, m)
		}
		sbKey := dedupe.SubBucketKey(n)
		bs.SubBucketKeys[sbKey] = struct{}{}
		loaded[sbKey] = struct{}{}
	}
	r.cache[key] = bs
	r.loadedKeys[key] = loaded
	return bs, true, nil
}

// New creates a fresh multi-member BucketSet rooted at key.
func (r *BucketSetRepo) New(key dedupe.BucketSetKey, members map[dedupe.SubBucketKey]struct{}) *BucketSet {
	bs := &BucketSet{Key: key, SubBucketKeys: members}
	r.cache[key] = bs
	delete(r.deleted, key)
	r.dirty[key] = true
	return bs
}

// MarkDirty flags key for re-serialization at Save time.
func (r *BucketSetRepo) MarkDirty(key dedupe.BucketSetKey) {
	r.dirty[key] = true
}

// Delete removes a BucketSet that has been merged away or emptied.
func (r *BucketSetRepo) Delete(key dedupe.BucketSetKey) {
	delete(r.cache, key)
	delete(r.dirty, key)
	delete(r.loadedKeys, key)
	r.deleted[key] = true
}

// Rename moves a cached BucketSet from oldKey to newKey, same
// bookkeeping role as SubBucketRepo.Rename.
func (r *BucketSetRepo) Rename(oldKey, newKey dedupe.BucketSetKey) {
	bs := r.cache[oldKey]
	delete(r.cache, oldKey)
	delete(r.loadedKeys, oldKey)
	delete(r.dirty, oldKey)
	r.deleted[oldKey] = true

	r.cache[newKey] = bs
	delete(r.deleted, newKey)
	r.dirty[newKey] = true
}

// DirtyKeys returns the BucketSet keys flagged dirty this unit of work.
func (r *BucketSetRepo) DirtyKeys() []dedupe.BucketSetKey {
	out := make([]dedupe.BucketSetKey, 0, len(r.dirty))
	for k := range r.dirty {
		out = append(out, k)
	}
	return out
}

// DeletedKeys returns the BucketSet keys removed this unit of work
// (merged away or emptied) -- spec.md §6 Processor surface "deletes".
func (r *BucketSetRepo) DeletedKeys() []dedupe.BucketSetKey {
	out := make([]dedupe.BucketSetKey, 0, len(r.deleted))
	for k := range r.deleted {
		out = append(out, k)
	}
	return out
}

// Save queues set-membership diffs for every dirty, still-multi-member
// BucketSet, and DeleteKey for every one removed, renamed away, or
// shrunk to a singleton this unit of work.
func (r *BucketSetRepo) Save() {
	for key := range r.dirty {
		bs := r.cache[key]
		if bs == nil || len(bs.SubBucketKeys) <= 1 {
			// Singleton: never persisted. If it was previously
			// persisted (shrank via removeSubBucket/merge split),
			// delete the stale KV entry.
			if _, wasPersisted := r.loadedKeys[key]; wasPersisted {
				r.tx.Queue(kvstore.DeleteKey(bucketSetSetKey(r.prefix, key)))
			}
			delete(r.loadedKeys, key)
			continue
		}
		skey := bucketSetSetKey(r.prefix, key)
		old := r.loadedKeys[key]
		var toAdd, toRemove []string
		for m := range bs.SubBucketKeys {
			if _, ok := old[m]; !ok {
				toAdd = append(toAdd, strconv.Itoa(int(m)))
			}
		}
		for m := range old {
			if _, ok := bs.SubBucketKeys[m]; !ok {
				toRemove = append(toRemove, strconv.Itoa(int(m)))
			}
		}
		if len(toAdd) > 0 {
			r.tx.Queue(kvstore.SAdd(skey, toAdd...))
		}
		if len(toRemove) > 0 {
			r.tx.Queue(kvstore.SRem(skey, toRemove...))
		}
		loaded := make(map[dedupe.SubBucketKey]struct{}, len(bs.SubBucketKeys))
		for m := range bs.SubBucketKeys {
			loaded[m] = struct{}{}
		}
		r.loadedKeys[key] = loaded
	}
	for key := range r.deleted {
		r.tx.Queue(kvstore.DeleteKey(bucketSetSetKey(r.prefix, key)))
	}
	r.dirty = make(map[dedupe.BucketSetKey]bool)
	r.deleted = make(map[dedupe.BucketSetKey]bool)
}
