// Package matcher implements the Matcher (spec.md §4.3, C7): candidate
// generation over the SentenceIndex plus the inside/edge positional
// overlap test that turns raw sentence co-occurrence into a match
// decision.
package matcher
