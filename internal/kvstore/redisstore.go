package kvstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dreamware/carddedupe/internal/dedupe"
)

// RedisStore is the production Store, backed by a single *redis.Client.
// Each Tx grabs its own pooled connection (the "isolated connection" of
// spec.md §4.7) so that WATCH state on one card's transaction never
// bleeds into another's.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing go-redis client. The caller owns the
// client's lifecycle (including closing it on shutdown).
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Begin grabs a dedicated connection from the pool and returns a Tx
// bound to it.
func (s *RedisStore) Begin(ctx context.Context) (Tx, error) {
	conn := s.client.Conn()
	return &redisTx{conn: conn, watched: make(map[string]struct{})}, nil
}

type redisTx struct {
	conn    *redis.Conn
	watched map[string]struct{}
	pending []Op
	closed  bool
}

// watchOnce issues a raw WATCH for key the first time it is read within
// this Tx. It deliberately bypasses the high-level (*redis.Conn).Watch
// helper, which wraps a single call in WATCH...UNWATCH and would drop
// earlier watches every time a new key needs to be added mid-unit-of-
// work; issuing WATCH directly on the held connection lets every read
// across the card's processing accumulate onto the same watch set,
// honored by the MULTI/EXEC issued in Commit.
func (t *redisTx) watchOnce(ctx context.Context, key string) error {
	if _, ok := t.watched[key]; ok {
		return nil
	}
	if err := t.conn.Do(ctx, "WATCH", key).Err(); err != nil {
		return fmt.Errorf("%w: watch %s: %w", dedupe.ErrInfrastructure, key, err)
	}
	t.watched[key] = struct{}{}
	return nil
}

func (t *redisTx) GetString(ctx context.Context, key string) ([]byte, error) {
	if err := t.watchOnce(ctx, key); err != nil {
		return nil, err
	}
	val, err := t.conn.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", dedupe.ErrInfrastructure, key, err)
	}
	return val, nil
}

func (t *redisTx) GetHash(ctx context.Context, key string) (map[string]string, error) {
	if err := t.watchOnce(ctx, key); err != nil {
		return nil, err
	}
	val, err := t.conn.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %w", dedupe.ErrInfrastructure, key, err)
	}
	if val == nil {
		val = map[string]string{}
	}
	return val, nil
}

func (t *redisTx) GetSet(ctx context.Context, key string) ([]string, error) {
	if err := t.watchOnce(ctx, key); err != nil {
		return nil, err
	}
	val, err := t.conn.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: smembers %s: %w", dedupe.ErrInfrastructure, key, err)
	}
	if val == nil {
		val = []string{}
	}
	return val, nil
}

func (t *redisTx) Queue(op Op) {
	t.pending = append(t.pending, op)
}

// Commit applies every queued op inside a single MULTI/EXEC issued over
// the same connection the WATCHes were registered on. go-redis surfaces
// a watched-key change as redis.TxFailedErr from Pipeliner.Exec, which
// Commit translates to dedupe.ErrOptimisticConflict.
func (t *redisTx) Commit(ctx context.Context) error {
	defer t.Close(ctx)

	pipe := t.conn.TxPipeline()
	for _, op := range t.pending {
		applyOp(ctx, pipe, op)
	}
	if len(t.pending) == 0 {
		// A read-only unit of work still runs MULTI/EXEC so that a
		// change to any watched key is reported as a conflict.
		pipe.Ping(ctx)
	}
	_, err := pipe.Exec(ctx)
	if err == redis.TxFailedErr {
		return dedupe.ErrOptimisticConflict
	}
	if err != nil {
		return fmt.Errorf("%w: exec: %w", dedupe.ErrInfrastructure, err)
	}
	return nil
}

func (t *redisTx) Close(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	// UNWATCH flushes any WATCHes left on the connection before it goes
	// back to (or out of) the pool, satisfying spec.md §5's quit()
	// requirement.
	_ = t.conn.Unwatch(ctx)
	return t.conn.Close()
}

func applyOp(ctx context.Context, pipe redis.Pipeliner, op Op) {
	switch op.Kind {
	case OpAppendString:
		pipe.Append(ctx, op.Key, string(op.Bytes))
	case OpSetHashFields:
		args := make([]any, 0, len(op.Fields)*2)
		for k, v := range op.Fields {
			args = append(args, k, v)
		}
		pipe.HSet(ctx, op.Key, args...)
	case OpDeleteHashFields:
		pipe.HDel(ctx, op.Key, op.FieldsD...)
	case OpDeleteKey:
		pipe.Del(ctx, op.Key)
	case OpSAdd:
		members := make([]any, len(op.Members))
		for i, m := range op.Members {
			members[i] = m
		}
		pipe.SAdd(ctx, op.Key, members...)
	case OpSRem:
		members := make([]any, len(op.Members))
		for i, m := range op.Members {
			members[i] = m
		}
		pipe.SRem(ctx, op.Key, members...)
	}
}
