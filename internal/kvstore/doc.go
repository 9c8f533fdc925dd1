// Package kvstore adapts the transactional key-value store spec.md §1
// treats as an external collaborator into a concrete Go interface with
// two implementations: RedisStore, backed by go-redis's native
// WATCH/MULTI/EXEC, and MemStore, an in-process double with the same
// optimistic-concurrency semantics for unit tests (modeled on the
// teacher's storage.MemoryStore).
//
// # Transaction model
//
// Store.Begin opens one Tx per unit of work (spec.md §4.7: "opens one
// KV transaction and one isolated connection per card"). A Tx exposes
// plain reads (GetString/GetHash/GetSet) that issue a WATCH the first
// time a given key is read — spec.md §9: "WATCH must be issued on a key
// before any read of it within the unit of work" — and a single Commit
// call that applies every queued write atomically via MULTI/EXEC,
// returning dedupe.ErrOptimisticConflict if any watched key changed.
//
// Every Tx is single-owner and not safe for concurrent use; the Context
// in internal/uow is the only caller.
package kvstore
