// Package normalize turns a card's fulltext into the ordered sequence of
// normalized sentences the rest of the engine fingerprints and indexes.
//
// Sentence boundaries are runs of terminal punctuation (. ? !) that are
// immediately followed by optional footnote digits, whitespace, and a
// capital letter. Go's regexp package is RE2-based and cannot express
// that trailing lookahead directly (spec.md §4.1's
// "([.?!])+(?=\d*\s+[A-Z])"), so Split implements the same boundary test
// as a manual scan — see split.go for the rationale and DESIGN.md for
// why this is one of the few places in this codebase that doesn't reach
// for a third-party library.
package normalize
