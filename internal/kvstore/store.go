package kvstore

import "context"

// OpKind identifies the kind of write queued on a Tx, applied atomically
// at Commit time.
type OpKind int

const (
	// OpAppendString appends Bytes to the string key (sentence shards).
	OpAppendString OpKind = iota
	// OpSetHashFields overwrites the given fields of a hash key
	// (CardLength, CardSubBucket, SubBucket records).
	OpSetHashFields
	// OpDeleteHashFields removes individual fields from a hash key.
	OpDeleteHashFields
	// OpDeleteKey removes a key entirely, regardless of type.
	OpDeleteKey
	// OpSAdd adds members to a set key (BucketSet membership).
	OpSAdd
	// OpSRem removes members from a set key.
	OpSRem
)

// Op is one queued write. Only the fields relevant to Kind are read.
type Op struct {
	Kind    OpKind
	Key     string
	Bytes   []byte
	Fields  map[string]string
	FieldsD []string // field names for OpDeleteHashFields
	Members []string // for OpSAdd / OpSRem
}

// AppendString queues an append to a string key.
func AppendString(key string, data []byte) Op {
	return Op{Kind: OpAppendString, Key: key, Bytes: data}
}

// SetHashFields queues a field overwrite on a hash key.
func SetHashFields(key string, fields map[string]string) Op {
	return Op{Kind: OpSetHashFields, Key: key, Fields: fields}
}

// DeleteHashFields queues removal of individual hash fields.
func DeleteHashFields(key string, fields ...string) Op {
	return Op{Kind: OpDeleteHashFields, Key: key, FieldsD: fields}
}

// DeleteKey queues removal of a whole key.
func DeleteKey(key string) Op {
	return Op{Kind: OpDeleteKey, Key: key}
}

// SAdd queues adding members to a set key.
func SAdd(key string, members ...string) Op {
	return Op{Kind: OpSAdd, Key: key, Members: members}
}

// SRem queues removing members from a set key.
func SRem(key string, members ...string) Op {
	return Op{Kind: OpSRem, Key: key, Members: members}
}

// Store opens transactions against the shared key-value store.
type Store interface {
	// Begin opens one isolated transaction. Callers must call Close (or
	// Commit, which closes on both success and conflict) exactly once.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single unit of work's view of the KV store: reads that watch
// keys lazily, and a batch of writes applied atomically at Commit.
type Tx interface {
	// GetString returns the raw bytes at key, watching it if this is
	// the first read of key within this Tx. A missing key returns nil,
	// nil (not an error).
	GetString(ctx context.Context, key string) ([]byte, error)

	// GetHash returns all fields of a hash key, watching it on first
	// read. A missing key returns an empty, non-nil map.
	GetHash(ctx context.Context, key string) (map[string]string, error)

	// GetSet returns all members of a set key, watching it on first
	// read. A missing key returns an empty, non-nil slice.
	GetSet(ctx context.Context, key string) ([]string, error)

	// Queue appends a write to this Tx's pending batch. Queued writes
	// are invisible to subsequent reads within the same Tx (spec.md
	// §4.7: repositories cache locally; Tx never re-reads its own
	// queued writes).
	Queue(op Op)

	// Commit applies every queued write atomically via MULTI/EXEC.
	// Returns dedupe.ErrOptimisticConflict if any watched key changed
	// since it was first read. Commit always closes the Tx.
	Commit(ctx context.Context) error

	// Close releases the isolated connection and clears any unreleased
	// WATCHes without committing (spec.md §5: "a Context that errors
	// must call quit() on its isolated connection").
	Close(ctx context.Context) error
}
