package match

import (
	"math"
	"testing"

	"github.com/mdstudy/mdstudy/internal/domain"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"Trims and lowercases", "  What Is Go?  ", "what is go?"},
		{"Collapses internal whitespace", "a\t b\n\nc", "a b c"},
		{"Empty", "   ", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.input); got != tc.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestContentKeySeparatesFields(t *testing.T) {
	if ContentKey("ab", "c") == ContentKey("a", "bc") {
		t.Error("content keys collide across the front/back boundary")
	}
	if ContentKey(" A  b ", "C") != ContentKey("a b", "c") {
		t.Error("content key is not normalization-invariant")
	}
}

func existingCard(id int64, front, back string) domain.Flashcard {
	return domain.Flashcard{ID: id, Front: front, Back: back}
}

func TestMatchExact(t *testing.T) {
	parsed := []domain.ParsedCard{
		{Front: "Second  Question", Back: "second answer"},
		{Front: "first question", Back: "First Answer"},
	}
	existing := []domain.Flashcard{
		existingCard(10, "First question", "first answer"),
		existingCard(11, "second question", "Second answer"),
	}

	res := Match(parsed, existing, 0)
	if len(res.Exact) != 2 || len(res.Fuzzy) != 0 || len(res.New) != 0 || len(res.Removed) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Exact[0].ExistingID != 11 || res.Exact[1].ExistingID != 10 {
		t.Errorf("exact assignments wrong: %+v", res.Exact)
	}
}

func TestMatchFuzzyPreservesEditedCard(t *testing.T) {
	parsed := []domain.ParsedCard{
		{Front: "what is a goroutine in go", Back: "a lightweight thread managed by the runtime"},
	}
	existing := []domain.Flashcard{
		existingCard(5, "what is a goroutine", "a lightweight thread managed by the go runtime"),
	}

	res := Match(parsed, existing, 0)
	if len(res.Fuzzy) != 1 {
		t.Fatalf("expected one fuzzy match, got %+v", res)
	}
	if res.Fuzzy[0].ExistingID != 5 {
		t.Errorf("fuzzy matched wrong card: %+v", res.Fuzzy[0])
	}
	if len(res.New) != 0 || len(res.Removed) != 0 {
		t.Errorf("fuzzy match leaked into new/removed: %+v", res)
	}
}

func TestMatchThresholdBoundary(t *testing.T) {
	// Identical fronts and fully disjoint backs score exactly 0.7.
	parsed := []domain.ParsedCard{{Front: "alpha beta gamma", Back: "one two"}}
	existing := []domain.Flashcard{existingCard(1, "alpha beta gamma", "three four")}

	if s := Score(parsed[0].Front, parsed[0].Back, existing[0].Front, existing[0].Back); math.Abs(s-0.7) > 1e-12 {
		t.Fatalf("fixture score = %f, want 0.7", s)
	}

	at := Match(parsed, existing, 0.7)
	if len(at.Fuzzy) != 1 {
		t.Errorf("score at threshold must match, got %+v", at)
	}

	above := Match(parsed, existing, 0.7+1e-9)
	if len(above.Fuzzy) != 0 || len(above.New) != 1 || len(above.Removed) != 1 {
		t.Errorf("score below threshold must not match, got %+v", above)
	}
}

func TestMatchBelowThresholdIsDeleteCreate(t *testing.T) {
	parsed := []domain.ParsedCard{{Front: "completely different topic", Back: "nothing shared"}}
	existing := []domain.Flashcard{existingCard(9, "what is a slice", "a view over an array")}

	res := Match(parsed, existing, 0)
	if len(res.New) != 1 || res.New[0] != 0 {
		t.Errorf("expected parsed card to be new: %+v", res)
	}
	if len(res.Removed) != 1 || res.Removed[0] != 9 {
		t.Errorf("expected existing card to be removed: %+v", res)
	}
}

func TestMatchFuzzyTieBreak(t *testing.T) {
	parsed := []domain.ParsedCard{{Front: "alpha beta", Back: "x"}}
	existing := []domain.Flashcard{
		existingCard(1, "alpha beta", "y"),
		existingCard(2, "alpha beta", "z"),
	}

	res := Match(parsed, existing, 0)
	if len(res.Fuzzy) != 1 || res.Fuzzy[0].ExistingID != 1 {
		t.Errorf("tie must go to the first-encountered existing card: %+v", res)
	}
}

func TestMatchGreedyDoesNotReconsider(t *testing.T) {
	// The first parsed card claims the only existing card even though the
	// second parsed card would score higher.
	parsed := []domain.ParsedCard{
		{Front: "alpha beta gamma delta", Back: "one answer here"},
		{Front: "alpha beta gamma delta epsilon", Back: "one answer here"},
	}
	existing := []domain.Flashcard{
		existingCard(3, "alpha beta gamma delta epsilon zeta", "one answer here"),
	}

	res := Match(parsed, existing, 0)
	if len(res.Fuzzy) != 1 || res.Fuzzy[0].ParsedIndex != 0 {
		t.Fatalf("expected greedy first-pass claim: %+v", res)
	}
	if len(res.New) != 1 || res.New[0] != 1 {
		t.Errorf("second parsed card should be new: %+v", res)
	}
}

func TestMatchOrderIndependenceOfExisting(t *testing.T) {
	parsed := []domain.ParsedCard{
		{Front: "q one", Back: "a one"},
		{Front: "q two", Back: "a two"},
	}
	forward := []domain.Flashcard{
		existingCard(1, "q one", "a one"),
		existingCard(2, "q two", "a two"),
	}
	reversed := []domain.Flashcard{forward[1], forward[0]}

	a := Match(parsed, forward, 0)
	b := Match(parsed, reversed, 0)
	if len(a.Exact) != 2 || len(b.Exact) != 2 {
		t.Fatalf("expected two exact matches: %+v / %+v", a, b)
	}
	for i := range a.Exact {
		if a.Exact[i] != b.Exact[i] {
			t.Errorf("exact matching depends on existing order: %+v vs %+v", a.Exact, b.Exact)
		}
	}
}

func TestWordJaccard(t *testing.T) {
	testCases := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"Identical", "a b c", "c b a", 1},
		{"Disjoint", "a b", "c d", 0},
		{"Half overlap", "a b c d", "a b c x", 3.0 / 5.0},
		{"Both empty", "", "", 1},
		{"One empty", "a", "", 0},
		{"Case and spacing ignored", "Go  Slices", "go slices", 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := wordJaccard(tc.a, tc.b); math.Abs(got-tc.expected) > 1e-12 {
				t.Errorf("wordJaccard(%q, %q) = %f, want %f", tc.a, tc.b, got, tc.expected)
			}
		})
	}
}
