package evidence

import (
	"context"
	"sync"

	"github.com/dreamware/carddedupe/internal/dedupe"
)

// MemStore is an in-memory Evidence double, used by Matcher/Processor
// unit tests so card fixtures don't need a database (SPEC_FULL.md
// "Evidence store" domain-stack entry).
type MemStore struct {
	mu    sync.RWMutex
	cards map[dedupe.CardID]string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{cards: make(map[dedupe.CardID]string)}
}

// Put seeds a card's fulltext.
func (s *MemStore) Put(id dedupe.CardID, fulltext string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[id] = fulltext
}

// LookupFulltext implements matcher.Evidence.
func (s *MemStore) LookupFulltext(ctx context.Context, id dedupe.CardID) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.cards[id]
	return text, ok, nil
}
