package evidence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dreamware/carddedupe/internal/dedupe"
)

// Card is the single row shape the evidence store exposes: an id and
// its fulltext. Nothing else in this codebase reads or writes this
// table; it is the relational "cards" table named in spec.md §1.
type Card struct {
	ID       int64  `gorm:"primaryKey;column:id"`
	Fulltext string `gorm:"column:fulltext"`
}

// TableName pins the gorm model to the table name spec.md §6 assumes.
func (Card) TableName() string { return "cards" }

// Store is the production evidence store, backed by *gorm.DB (wired
// with gorm.io/driver/sqlite or any other gorm dialect the deployment
// chooses).
type Store struct {
	db *gorm.DB
}

// NewStore wraps an already-migrated *gorm.DB. Callers are responsible
// for running AutoMigrate(&Card{}) (or an equivalent schema) once at
// startup.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LookupFulltext implements spec.md §6's
// "lookupFulltext(cardId) → (id, fulltext) | none".
func (s *Store) LookupFulltext(ctx context.Context, id dedupe.CardID) (string, bool, error) {
	var row Card
	err := s.db.WithContext(ctx).First(&row, int64(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: evidence lookup card %d: %w", dedupe.ErrInfrastructure, id, err)
	}
	return row.Fulltext, true, nil
}
