package matcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/normalize"
	"github.com/dreamware/carddedupe/internal/sentence"
)

// Evidence looks up a card's fulltext (spec.md §6 "Evidence store
// interface"). Implemented by internal/evidence.
type Evidence interface {
	LookupFulltext(ctx context.Context, id dedupe.CardID) (string, bool, error)
}

// Index fetches sentence occurrences by subKey-filtered fingerprint
// (spec.md §4.2). Implemented by *sentence.Index.
type Index interface {
	Fetch(ctx context.Context, sentences []string) (map[string][]sentence.Occurrence, error)
}

// Lengths resolves a card's normalized sentence count (spec.md §4.3
// step 2, "b.cardLen = CardLength(cardId')"). Implemented by
// *cardlen.LengthRepo.
type Lengths interface {
	Get(ctx context.Context, id dedupe.CardID) (int, bool, error)
}

// Config carries the tolerances spec.md §6 tunes.
type Config struct {
	EdgeTolerance   int
	InsideTolerance int
	SentenceCutoff  int
}

// Matcher implements spec.md §4.3.
type Matcher struct {
	Evidence Evidence
	Index    Index
	Lengths  Lengths
	Config   Config
}

// Result is the Matcher's output for one card (spec.md §4.3 step 5).
type Result struct {
	// Matches is the sorted, deduplicated list of card IDs that match
	// the queried card.
	Matches []dedupe.CardID
	// ExistingSentences reports whether the queried card already
	// appears among the sentence occurrences (i.e. its occurrences were
	// indexed by an earlier attempt at processing it).
	ExistingSentences bool
}

// side is one card's observed position range within a shared sentence
// set (spec.md §4.3 step 2's "a" or "b").
type side struct {
	cardLen  int
	min, max int
}

// Match implements spec.md §4.3 steps 1-5. If sentences is nil, it is
// loaded from the evidence store and normalized first; a missing
// fulltext is reported as dedupe.ErrMissingCard.
func (m *Matcher) Match(ctx context.Context, id dedupe.CardID, sentences []string) (Result, error) {
	if sentences == nil {
		fulltext, ok, err := m.Evidence.LookupFulltext(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, fmt.Errorf("%w: card %d", dedupe.ErrMissingCard, id)
		}
		sentences = normalize.Sentences(fulltext, m.Config.SentenceCutoff)
	}

	occsBySentence, err := m.Index.Fetch(ctx, sentences)
	if err != nil {
		return Result{}, err
	}

	aPos := make(map[dedupe.CardID]*side) // this card's positions, per other card
	bPos := make(map[dedupe.CardID]*side) // the other card's own positions
	existing := false

	for i, s := range sentences {
		for _, occ := range occsBySentence[s] {
			if occ.CardID == id {
				existing = true
				continue
			}
			observeSide(aPos, occ.CardID, i)
			observeSide(bPos, occ.CardID, int(occ.SentenceIdx))
		}
	}

	var matches []dedupe.CardID
	for otherID, a := range aPos {
		a.cardLen = len(sentences)
		b := bPos[otherID]
		b.cardLen, _, err = m.Lengths.Get(ctx, otherID)
		if err != nil {
			return Result{}, err
		}
		if m.isMatch(*a, *b) {
			matches = append(matches, otherID)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })

	return Result{Matches: matches, ExistingSentences: existing}, nil
}

func observeSide(m map[dedupe.CardID]*side, id dedupe.CardID, idx int) {
	s, ok := m[id]
	if !ok {
		m[id] = &side{min: idx, max: idx}
		return
	}
	if idx < s.min {
		s.min = idx
	}
	if idx > s.max {
		s.max = idx
	}
}

// isMatch implements spec.md §4.3 step 4: isMatch(info) = checkMatch(a,
// b) or checkMatch(b, a).
func (m *Matcher) isMatch(a, b side) bool {
	return m.checkMatch(a, b) || m.checkMatch(b, a)
}

// checkMatch implements spec.md's checkMatch(x, y): either x lies
// almost entirely inside the shared span ("inside"), or x's head aligns
// with y's tail ("edge").
func (m *Matcher) checkMatch(x, y side) bool {
	if x.cardLen > 3 && x.cardLen-(x.max+1-x.min) <= m.Config.InsideTolerance {
		return true
	}
	if x.min <= m.Config.EdgeTolerance && y.cardLen-y.max <= m.Config.EdgeTolerance {
		return true
	}
	return false
}
