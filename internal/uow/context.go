package uow

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/carddedupe/internal/cardlen"
	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/graph"
	"github.com/dreamware/carddedupe/internal/kvstore"
	"github.com/dreamware/carddedupe/internal/sentence"
)

// Context is the per-card unit of work (spec.md §4.7): one KV
// transaction, the repository caches layered over it, and the Engine
// that implements SubBucket/BucketSet operations against those
// repositories.
type Context struct {
	// ID correlates the log lines of one processing attempt (SPEC_FULL.md
	// ambient stack: google/uuid). Each retry opens a new Context and so
	// gets a new ID.
	ID uuid.UUID

	tx kvstore.Tx

	Lengths        *cardlen.LengthRepo
	CardSubBuckets *cardlen.SubBucketRepo
	SubBuckets     *graph.SubBucketRepo
	BucketSets     *graph.BucketSetRepo
	Sentences      *sentence.Index
	Engine         *graph.Engine

	Log *zap.SugaredLogger
}

// New opens a transaction against store and wires every repository and
// the Engine atop it. matcher and q satisfy the Engine's MatchSource and
// Queue collaborators (spec.md §4.4's removeCard re-derive, §9's
// re-queue).
func New(ctx context.Context, store kvstore.Store, prefix string, matcher graph.MatchSource, q graph.Queue, log *zap.SugaredLogger) (*Context, error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	scoped := log.With("uow", id.String())

	lengths := cardlen.NewLengthRepo(tx, prefix)
	cardSubBuckets := cardlen.NewSubBucketRepo(tx, prefix)
	subBuckets := graph.NewSubBucketRepo(tx, prefix)
	bucketSets := graph.NewBucketSetRepo(tx, prefix)
	sentences := sentence.New(tx, prefix)

	engine := &graph.Engine{
		SubBuckets:     subBuckets,
		BucketSets:     bucketSets,
		CardSubBuckets: cardSubBuckets,
		Matcher:        matcher,
		Queue:          q,
		Log:            scoped,
	}

	return &Context{
		ID:             id,
		tx:             tx,
		Lengths:        lengths,
		CardSubBuckets: cardSubBuckets,
		SubBuckets:     subBuckets,
		BucketSets:     bucketSets,
		Sentences:      sentences,
		Engine:         engine,
		Log:            scoped,
	}, nil
}

// BucketSetSnapshot is one touched BucketSet's final membership, the
// unit spec.md §6's Processor surface forwards to the driver.
type BucketSetSnapshot struct {
	BucketSetKey dedupe.BucketSetKey
	CardIDs      []dedupe.CardID
}

// FinishResult is what Context.Finish reports back to the Processor:
// every BucketSet touched this unit of work (with its final
// membership), and every BucketSet key removed.
type FinishResult struct {
	Updates []BucketSetSnapshot
	Deletes []dedupe.BucketSetKey
}

// Finish computes the touched-BucketSets summary, saves every dirty
// entity across repositories in the fixed order spec.md §4.7 requires
// (SubBucket -> CardLength -> CardSubBucket -> Sentence -> BucketSet, so
// no saved reference dangles), then commits. On
// dedupe.ErrOptimisticConflict the caller (Processor) must discard this
// Context and retry from a fresh one.
func (c *Context) Finish(ctx context.Context) (FinishResult, error) {
	touched := make(map[dedupe.BucketSetKey]struct{})
	for _, bsKey := range c.BucketSets.DirtyKeys() {
		touched[bsKey] = struct{}{}
	}
	for _, sbKey := range c.SubBuckets.DirtyKeys() {
		sb, ok, err := c.SubBuckets.Get(ctx, sbKey)
		if err != nil {
			return FinishResult{}, err
		}
		if ok {
			touched[sb.BucketSetKey] = struct{}{}
		}
	}
	deletes := c.BucketSets.DeletedKeys()

	var updates []BucketSetSnapshot
	for bsKey := range touched {
		snapshot, err := c.snapshot(ctx, bsKey)
		if err != nil {
			return FinishResult{}, err
		}
		if snapshot != nil {
			updates = append(updates, *snapshot)
		}
	}

	c.SubBuckets.Save()
	c.Lengths.Save()
	c.CardSubBuckets.Save()
	c.Sentences.Save()
	c.BucketSets.Save()

	if err := c.tx.Commit(ctx); err != nil {
		return FinishResult{}, err
	}
	return FinishResult{Updates: updates, Deletes: deletes}, nil
}

func (c *Context) snapshot(ctx context.Context, bsKey dedupe.BucketSetKey) (*BucketSetSnapshot, error) {
	bs, err := c.Engine.GetSet(ctx, bsKey)
	if err != nil {
		return nil, err
	}
	var cardIDs []dedupe.CardID
	for sbKey := range bs.SubBucketKeys {
		sb, ok, err := c.SubBuckets.Get(ctx, sbKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for id := range sb.Cards {
			cardIDs = append(cardIDs, id)
		}
	}
	if len(cardIDs) == 0 {
		return nil, nil
	}
	return &BucketSetSnapshot{BucketSetKey: bsKey, CardIDs: cardIDs}, nil
}

// Quit releases this Context's isolated connection without committing
// (spec.md §5: "a Context that errors must call quit() on its isolated
// connection to flush any unreleased WATCHes").
func (c *Context) Quit(ctx context.Context) error {
	return c.tx.Close(ctx)
}
