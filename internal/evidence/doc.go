// Package evidence implements the evidence store adapter spec.md §6
// names as an external collaborator by interface only
// ("lookupFulltext(cardId) → (id, fulltext) | none"). Store wraps
// gorm.io/gorm over a single "cards" table; MemStore is the in-memory
// fake the rest of the engine's unit tests use instead of a database.
package evidence
