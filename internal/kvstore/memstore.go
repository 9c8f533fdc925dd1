package kvstore

import (
	"context"
	"sync"

	"github.com/dreamware/carddedupe/internal/dedupe"
)

// MemStore is an in-process Store double with the same WATCH/MULTI/EXEC
// semantics as RedisStore, modeled on the teacher's storage.MemoryStore:
// a single mutex-protected map, here paired with a per-key version
// counter so Tx.Commit can detect the optimistic-conflict case (spec.md
// §8 S6) without a real Redis instance. Used by every package's unit
// tests; redisstore_test.go separately tests a miniredis-backed
// RedisStore (append/read, optimistic conflict, hash fields), which is
// not the same set of cases as memstore_test.go.
type MemStore struct {
	mu       sync.Mutex
	strings  map[string][]byte
	hashes   map[string]map[string]string
	sets     map[string]map[string]struct{}
	versions map[string]uint64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		strings:  make(map[string][]byte),
		hashes:   make(map[string]map[string]string),
		sets:     make(map[string]map[string]struct{}),
		versions: make(map[string]uint64),
	}
}

func (s *MemStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{store: s, watched: make(map[string]uint64)}, nil
}

type memTx struct {
	store   *MemStore
	watched map[string]uint64 // key -> version observed at watch time
	pending []Op
	closed  bool
}

func (t *memTx) watchOnce(key string) {
	if _, ok := t.watched[key]; ok {
		return
	}
	t.store.mu.Lock()
	t.watched[key] = t.store.versions[key]
	t.store.mu.Unlock()
}

func (t *memTx) GetString(ctx context.Context, key string) ([]byte, error) {
	t.watchOnce(key)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	v, ok := t.store.strings[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *memTx) GetHash(ctx context.Context, key string) (map[string]string, error) {
	t.watchOnce(key)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	out := make(map[string]string)
	for k, v := range t.store.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (t *memTx) GetSet(ctx context.Context, key string) ([]string, error) {
	t.watchOnce(key)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	out := make([]string, 0, len(t.store.sets[key]))
	for m := range t.store.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (t *memTx) Queue(op Op) {
	t.pending = append(t.pending, op)
}

// Commit checks every watched key's version against what was observed
// at first read; if any changed, the whole batch is discarded and
// dedupe.ErrOptimisticConflict is returned, exactly mirroring a Redis
// EXEC aborted by a WATCH violation.
func (t *memTx) Commit(ctx context.Context) error {
	defer t.Close(ctx)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for key, observed := range t.watched {
		if t.store.versions[key] != observed {
			return dedupe.ErrOptimisticConflict
		}
	}

	for _, op := range t.pending {
		t.applyLocked(op)
	}
	return nil
}

func (t *memTx) applyLocked(op Op) {
	t.store.versions[op.Key]++

	switch op.Kind {
	case OpAppendString:
		t.store.strings[op.Key] = append(t.store.strings[op.Key], op.Bytes...)
	case OpSetHashFields:
		h, ok := t.store.hashes[op.Key]
		if !ok {
			h = make(map[string]string)
			t.store.hashes[op.Key] = h
		}
		for k, v := range op.Fields {
			h[k] = v
		}
	case OpDeleteHashFields:
		h := t.store.hashes[op.Key]
		for _, f := range op.FieldsD {
			delete(h, f)
		}
	case OpDeleteKey:
		delete(t.store.strings, op.Key)
		delete(t.store.hashes, op.Key)
		delete(t.store.sets, op.Key)
	case OpSAdd:
		set, ok := t.store.sets[op.Key]
		if !ok {
			set = make(map[string]struct{})
			t.store.sets[op.Key] = set
		}
		for _, m := range op.Members {
			set[m] = struct{}{}
		}
	case OpSRem:
		set := t.store.sets[op.Key]
		for _, m := range op.Members {
			delete(set, m)
		}
	}
}

func (t *memTx) Close(ctx context.Context) error {
	t.closed = true
	return nil
}
