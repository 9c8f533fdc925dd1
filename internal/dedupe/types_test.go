package dedupe

import "testing"

func TestShouldMatch(t *testing.T) {
	cases := []struct {
		name string
		m, t int
		want bool
	}{
		{"zero total", 0, 0, false},
		{"exact half not enough", 1, 2, false},
		{"over half", 2, 3, true},
		{"all members", 2, 2, true},
		{"boundary 6 of 10", 6, 10, true},
		{"boundary 5 of 10", 5, 10, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ShouldMatch(c.m, c.t); got != c.want {
				t.Errorf("ShouldMatch(%d, %d) = %v, want %v", c.m, c.t, got, c.want)
			}
		})
	}
}

func TestShouldMerge(t *testing.T) {
	cases := []struct {
		name string
		m, t int
		want bool
	}{
		{"zero total", 0, 0, false},
		{"above absolute threshold", 6, 1000, true},
		{"below absolute, above ratio", 3, 10, true},
		{"below both", 1, 10, false},
		{"ratio boundary", 2, 10, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ShouldMerge(c.m, c.t); got != c.want {
				t.Errorf("ShouldMerge(%d, %d) = %v, want %v", c.m, c.t, got, c.want)
			}
		})
	}
}

func TestShouldMergeSets(t *testing.T) {
	a := CardSet{
		Members: map[CardID]struct{}{1: {}, 2: {}},
		Matching: map[CardID]int{
			10: 3,
			11: 1,
		},
	}
	b := CardSet{
		Members: map[CardID]struct{}{10: {}, 11: {}},
	}
	// a.Matching[10]=3 against a.Size()=2 -> 3>5? no; 3/2=1.5>=0.2 -> qualifies.
	// a.Matching[11]=1 against a.Size()=2 -> 1/2=0.5>=0.2 -> qualifies.
	// qualifying=2, b.Size()=2 -> ShouldMerge(2,2) -> 2/2=1>=0.2 -> true.
	if !ShouldMergeSets(a, b) {
		t.Fatal("expected sets to merge")
	}

	// Only 10 and 11 qualify (as above); qualifying=2 against
	// sparse.Size()=11 -> 2>5? no; 2/11~0.18<0.2 -> false.
	sparse := CardSet{
		Members:  map[CardID]struct{}{10: {}, 11: {}, 12: {}, 13: {}, 14: {}, 15: {}, 16: {}, 17: {}, 18: {}, 19: {}, 20: {}},
		Matching: map[CardID]int{},
	}
	if ShouldMergeSets(a, sparse) {
		t.Fatal("expected sparse set not to merge")
	}
}
