package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/graph"
	"github.com/dreamware/carddedupe/internal/kvstore"
	"github.com/dreamware/carddedupe/internal/matcher"
	"github.com/dreamware/carddedupe/internal/normalize"
	"github.com/dreamware/carddedupe/internal/uow"
)

// Update is one BucketSet touched by a processCard call, with its final
// membership (spec.md §6 "Processor surface").
type Update struct {
	BucketSetKey dedupe.BucketSetKey
	CardIDs      []dedupe.CardID
}

// Result is processCard's output: the BucketSets to forward downstream
// and the ones to drop (spec.md §6).
type Result struct {
	Updates []Update
	Deletes []dedupe.BucketSetKey
}

// Processor implements spec.md §4.6.
type Processor struct {
	Store    kvstore.Store
	Prefix   string
	Evidence matcher.Evidence
	Queue    graph.Queue
	Config   dedupe.Config
	Log      *zap.SugaredLogger
}

// matchSourceAdapter satisfies graph.MatchSource by re-deriving a
// card's matches through the full Matcher (spec.md §4.4 removeCard's
// "re-derive that card's matches via the Matcher").
type matchSourceAdapter struct{ m *matcher.Matcher }

func (a matchSourceAdapter) Matches(ctx context.Context, id dedupe.CardID) ([]dedupe.CardID, error) {
	res, err := a.m.Match(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return res.Matches, nil
}

// ProcessCard implements spec.md §4.6 end to end: it opens a fresh
// Context each attempt, runs the reprocess or ingest workflow, and
// retries the whole thing from scratch on dedupe.ErrOptimisticConflict
// with an unbounded exponential backoff (spec.md §5: "the outer driver
// imposes no retry cap").
func (p *Processor) ProcessCard(ctx context.Context, id dedupe.CardID) (Result, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	var final uow.FinishResult
	attempt := 0

	op := func() error {
		attempt++

		// m's Index/Lengths are per-unit-of-work and filled in once c
		// exists; matchSourceAdapter only calls through m after c is
		// built, so the forward reference is safe.
		m := &matcher.Matcher{
			Evidence: p.Evidence,
			Config: matcher.Config{
				EdgeTolerance:   p.Config.EdgeTolerance,
				InsideTolerance: p.Config.InsideTolerance,
				SentenceCutoff:  p.Config.SentenceCutoff,
			},
		}
		c, err := uow.New(ctx, p.Store, p.Prefix, matchSourceAdapter{m}, p.Queue, p.Log)
		if err != nil {
			return backoff.Permanent(err)
		}
		m.Index = c.Sentences
		m.Lengths = c.Lengths

		ownerKey, hasOwner, err := c.CardSubBuckets.Get(ctx, id)
		if err != nil {
			_ = c.Quit(ctx)
			return p.classify(err)
		}

		var fr uow.FinishResult
		if hasOwner {
			fr, err = p.reprocess(ctx, c, id, ownerKey)
		} else {
			fr, err = p.ingest(ctx, c, m, id)
		}
		if err != nil {
			_ = c.Quit(ctx)
			return p.classify(err)
		}

		final = fr
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return Result{}, err
	}
	p.Log.Debugw("processed card", "card", id, "attempts", attempt)
	return toResult(final), nil
}

// classify maps dedupe.ErrOptimisticConflict to a retryable error and
// everything else to backoff.Permanent, so only conflicts are retried
// (spec.md §7: "the Processor handles only OptimisticConflict by
// retry").
func (p *Processor) classify(err error) error {
	if errors.Is(err, dedupe.ErrOptimisticConflict) {
		p.Log.Debugw("optimistic conflict, retrying", "err", err)
		return err
	}
	return backoff.Permanent(err)
}

// reprocess implements spec.md §4.6 step 1: a card that already has a
// SubBucket makes no structural change. It walks the connected
// component of SubBuckets reachable through matching edges crossing
// BucketSets and reports their current membership, purely for the
// driver's benefit (R2: reprocessing is idempotent).
func (p *Processor) reprocess(ctx context.Context, c *uow.Context, id dedupe.CardID, ownerKey dedupe.SubBucketKey) (uow.FinishResult, error) {
	visitedSets := make(map[dedupe.BucketSetKey]struct{})
	visitedSB := make(map[dedupe.SubBucketKey]struct{})
	queue := []dedupe.SubBucketKey{ownerKey}
	var updates []uow.BucketSetSnapshot

	for len(queue) > 0 {
		sbKey := queue[0]
		queue = queue[1:]
		if _, ok := visitedSB[sbKey]; ok {
			continue
		}
		visitedSB[sbKey] = struct{}{}

		sb, ok, err := c.SubBuckets.Get(ctx, sbKey)
		if err != nil {
			return uow.FinishResult{}, err
		}
		if !ok {
			continue
		}

		if _, ok := visitedSets[sb.BucketSetKey]; !ok {
			visitedSets[sb.BucketSetKey] = struct{}{}
			bs, err := c.Engine.GetSet(ctx, sb.BucketSetKey)
			if err != nil {
				return uow.FinishResult{}, err
			}
			var cardIDs []dedupe.CardID
			for member := range bs.SubBucketKeys {
				msb, ok, err := c.SubBuckets.Get(ctx, member)
				if err != nil {
					return uow.FinishResult{}, err
				}
				if !ok {
					continue
				}
				for cid := range msb.Cards {
					cardIDs = append(cardIDs, cid)
				}
			}
			if len(cardIDs) > 0 {
				updates = append(updates, uow.BucketSetSnapshot{BucketSetKey: sb.BucketSetKey, CardIDs: cardIDs})
			}
		}

		for m := range sb.Matching {
			mKey, ok, err := c.CardSubBuckets.Get(ctx, m)
			if err != nil {
				return uow.FinishResult{}, err
			}
			if ok {
				queue = append(queue, mKey)
			}
		}
	}

	// Nothing was mutated, so Finish's own dirty-key scan would report no
	// updates; every read above still WATCHed a key, so committing
	// (rather than quitting) lets a concurrent structural change to this
	// component surface as a conflict and trigger a retry. The BFS above
	// is what actually answers "what does this card's family look like
	// right now" for the driver.
	fr, err := c.Finish(ctx)
	if err != nil {
		return uow.FinishResult{}, err
	}
	return uow.FinishResult{Updates: updates, Deletes: fr.Deletes}, nil
}

// ingest implements spec.md §4.6 steps 2-7: a card with no SubBucket
// yet is matched, placed (joining the best-fit candidate or founding a
// new SubBucket), resolved, and its occurrences indexed.
func (p *Processor) ingest(ctx context.Context, c *uow.Context, m *matcher.Matcher, id dedupe.CardID) (uow.FinishResult, error) {
	fulltext, ok, err := p.Evidence.LookupFulltext(ctx, id)
	if err != nil {
		return uow.FinishResult{}, err
	}
	if !ok {
		return uow.FinishResult{}, fmt.Errorf("%w: card %d", dedupe.ErrMissingCard, id)
	}
	sentences := normalize.Sentences(fulltext, p.Config.SentenceCutoff)
	c.Lengths.Set(id, len(sentences))

	res, err := m.Match(ctx, id, sentences)
	if err != nil {
		return uow.FinishResult{}, err
	}

	candidateSet := make(map[dedupe.SubBucketKey]struct{})
	for _, matchID := range res.Matches {
		sbKey, ok, err := c.CardSubBuckets.Get(ctx, matchID)
		if err != nil {
			return uow.FinishResult{}, err
		}
		if ok {
			candidateSet[sbKey] = struct{}{}
		}
	}
	candidates := sortedKeys(candidateSet)

	for _, sbKey := range candidates {
		if err := c.Engine.SetMatches(ctx, sbKey, id, res.Matches); err != nil {
			return uow.FinishResult{}, err
		}
	}

	var best dedupe.SubBucketKey
	var bestSize int
	found := false
	for _, sbKey := range candidates {
		sb, ok, err := c.SubBuckets.Get(ctx, sbKey)
		if err != nil {
			return uow.FinishResult{}, err
		}
		if !ok || !c.Engine.DoesBucketMatch(sb, res.Matches) {
			continue
		}
		if !found || len(sb.Cards) > bestSize {
			best, bestSize, found = sbKey, len(sb.Cards), true
		}
	}

	var targetKey dedupe.SubBucketKey
	if found {
		targetKey, err = c.Engine.AddCard(ctx, best, id, res.Matches)
	} else {
		c.SubBuckets.New(dedupe.SubBucketKey(id))
		targetKey, err = c.Engine.AddCard(ctx, dedupe.SubBucketKey(id), id, res.Matches)
	}
	if err != nil {
		return uow.FinishResult{}, err
	}

	if _, err := c.Engine.Resolve(ctx, targetKey, res.Matches); err != nil {
		return uow.FinishResult{}, err
	}

	if !res.ExistingSentences {
		for i, s := range sentences {
			if err := c.Sentences.AddOccurrence(s, id, dedupe.SentenceIdx(i)); err != nil {
				return uow.FinishResult{}, err
			}
		}
	}

	return c.Finish(ctx)
}

func sortedKeys(set map[dedupe.SubBucketKey]struct{}) []dedupe.SubBucketKey {
	out := make([]dedupe.SubBucketKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func toResult(fr uow.FinishResult) Result {
	r := Result{Deletes: fr.Deletes}
	for _, u := range fr.Updates {
		r.Updates = append(r.Updates, Update{BucketSetKey: u.BucketSetKey, CardIDs: u.CardIDs})
	}
	return r
}
