package sentence

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/dreamware/carddedupe/internal/dedupe"
)

// recordSize is the packed width of one occurrence record: subKey (5
// bytes) + cardId (4 bytes BE) + sentenceIndex (2 bytes BE).
const recordSize = 11

// Occurrence is one parsed shard record: a card's normalized sentence
// at sentenceIndex whose fingerprint's subKey is SubKey.
type Occurrence struct {
	SubKey      string
	CardID      dedupe.CardID
	SentenceIdx dedupe.SentenceIdx
}

// packRecord packs one occurrence into its 11-byte wire form.
func packRecord(subKey string, cardID dedupe.CardID, idx dedupe.SentenceIdx) ([]byte, error) {
	subBytes, err := hex.DecodeString(subKey)
	if err != nil || len(subBytes) != 5 {
		return nil, fmt.Errorf("sentence: invalid subKey %q: %w", subKey, err)
	}

	buf := make([]byte, recordSize)
	copy(buf[0:5], subBytes)
	binary.BigEndian.PutUint32(buf[5:9], uint32(cardID))
	binary.BigEndian.PutUint16(buf[9:11], uint16(idx))
	return buf, nil
}

// unpackShard parses a whole shard's bytes into occurrence records. A
// length that isn't a multiple of 11 violates the append-only invariant
// and is reported as dedupe.ErrCorruptShard.
func unpackShard(raw []byte) ([]Occurrence, error) {
	if len(raw)%recordSize != 0 {
		return nil, fmt.Errorf("%w: length %d", dedupe.ErrCorruptShard, len(raw))
	}

	out := make([]Occurrence, 0, len(raw)/recordSize)
	for off := 0; off < len(raw); off += recordSize {
		rec := raw[off : off+recordSize]
		out = append(out, Occurrence{
			SubKey:      hex.EncodeToString(rec[0:5]),
			CardID:      dedupe.CardID(binary.BigEndian.Uint32(rec[5:9])),
			SentenceIdx: dedupe.SentenceIdx(binary.BigEndian.Uint16(rec[9:11])),
		})
	}
	return out, nil
}
