package normalize

import "unicode"

// splitSentences finds sentence boundaries: a maximal run of '.', '?',
// '!' immediately followed by zero or more digits, one or more
// whitespace characters, and an uppercase letter. The digits/whitespace
// /capital lookahead is never consumed — only the punctuation run is
// removed, matching the behavior of regexp.Split on
// "([.?!])+(?=\d*\s+[A-Z])" if RE2 supported lookahead.
func splitSentences(text string) []string {
	runes := []rune(text)
	n := len(runes)

	var fragments []string
	fragStart := 0
	i := 0

	for i < n {
		if !isTerminalPunct(runes[i]) {
			i++
			continue
		}

		runEnd := i
		for runEnd < n && isTerminalPunct(runes[runEnd]) {
			runEnd++
		}

		if boundaryFollows(runes, runEnd) {
			fragments = append(fragments, string(runes[fragStart:i]))
			fragStart = runEnd
			i = runEnd
			continue
		}

		i = runEnd
	}

	fragments = append(fragments, string(runes[fragStart:]))
	return fragments
}

// boundaryFollows reports whether, starting at pos, the text matches
// \d*\s+[A-Z]: optional digits, then at least one whitespace rune, then
// an uppercase letter.
func boundaryFollows(runes []rune, pos int) bool {
	n := len(runes)
	for pos < n && unicode.IsDigit(runes[pos]) {
		pos++
	}

	wsStart := pos
	for pos < n && unicode.IsSpace(runes[pos]) {
		pos++
	}
	if pos == wsStart {
		return false // need at least one whitespace rune
	}

	if pos >= n {
		return false
	}
	return unicode.IsUpper(runes[pos])
}

func isTerminalPunct(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}
