package normalize

import (
	"reflect"
	"testing"
)

func TestSentencesBasicSplit(t *testing.T) {
	text := "This is the first sentence of the document. Here comes the second one, quite long indeed! And a third sentence follows here too."
	got := Sentences(text, DefaultCutoff)
	if len(got) != 3 {
		t.Fatalf("expected 3 sentences, got %d: %v", len(got), got)
	}
	for _, s := range got {
		for _, r := range s {
			if r < 'a' || r > 'z' {
				t.Fatalf("sentence %q contains non-lowercase-alpha rune %q", s, r)
			}
		}
	}
}

func TestSentencesFootnoteDigitsDoNotBreakBoundary(t *testing.T) {
	// "footnote.1 Next" should still split because the lookahead
	// tolerates optional digits between the punctuation and the
	// whitespace + capital.
	text := "This sentence ends with a footnote marker right here.1 Next sentence starts now and is long enough."
	got := Sentences(text, DefaultCutoff)
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %v", len(got), got)
	}
}

func TestSentencesDropsShortFragments(t *testing.T) {
	text := "Ok. This one is a reasonably long sentence that clears the cutoff easily."
	got := Sentences(text, DefaultCutoff)
	if len(got) != 1 {
		t.Fatalf("expected the short fragment 'Ok' to be dropped, got %v", got)
	}
}

func TestSentencesNoBoundaryWithoutCapitalFollowing(t *testing.T) {
	// lowercase word after the period should not be treated as a
	// boundary.
	text := "this is a sentence with a decimal value of 3.14 inside of it and it keeps going long enough to clear cutoff"
	got := Sentences(text, DefaultCutoff)
	if len(got) != 1 {
		t.Fatalf("expected a single fragment (no boundary at 3.14), got %d: %v", len(got), got)
	}
}

func TestSentencesIdempotent(t *testing.T) {
	text := "Sentence number one is here to stay and is long enough to clear the cutoff."
	first := Sentences(text, DefaultCutoff)
	if len(first) != 1 {
		t.Fatalf("setup: expected exactly one fragment, got %v", first)
	}
	second := Sentences(first[0], DefaultCutoff)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalize not idempotent: first=%v second=%v", first, second)
	}
}
