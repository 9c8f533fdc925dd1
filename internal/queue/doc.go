// Package queue implements the ingestion re-queue capability spec.md §9
// "Re-queue on removal" requires the core to expose: a card evicted
// from a SubBucket is pushed back for reprocessing rather than
// recursively reclustered synchronously, keeping each unit of work
// bounded. The ingestion driver proper (the loop that feeds card IDs to
// the core) is out of scope per spec.md §1; this package is only the
// append side the core calls into.
package queue
