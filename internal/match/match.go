// Package match assigns parsed markdown cards to persisted cards so that
// edits, reorders, and rewrites can be told apart without destroying review
// history. Identity is content, never storage id or file position.
package match

import (
	"strings"

	"github.com/mdstudy/mdstudy/internal/domain"
)

// DefaultFuzzyThreshold is the minimum weighted Jaccard score for a fuzzy
// claim. Empirical; overridable through configuration.
const DefaultFuzzyThreshold = 0.70

// keySeparator keeps front and back from bleeding into each other inside a
// content key.
const keySeparator = "\x1f"

// Normalize cleans card text for identity comparison: trim, lowercase, and
// collapse internal whitespace runs to single spaces.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContentKey builds the matching identity of a front/back pair.
func ContentKey(front, back string) string {
	return Normalize(front) + keySeparator + Normalize(back)
}

// ExactMatch pairs a parsed card with an existing card of identical content.
type ExactMatch struct {
	ParsedIndex int
	ExistingID  int64
}

// FuzzyMatch pairs a parsed card with the existing card it most resembles.
type FuzzyMatch struct {
	ParsedIndex int
	ExistingID  int64
	Score       float64
}

// Result is the full assignment produced by Match.
type Result struct {
	Exact   []ExactMatch
	Fuzzy   []FuzzyMatch
	New     []int   // parsed indexes with no match
	Removed []int64 // existing ids no parsed card claimed
}

// Match runs the three-phase assignment: exact content keys first, then a
// greedy fuzzy pass in parsed order, then everything left over. Passing a
// threshold <= 0 uses DefaultFuzzyThreshold. The result does not depend on
// the order of the existing slice for exact matches; fuzzy ties go to the
// first-encountered existing card.
func Match(parsed []domain.ParsedCard, existing []domain.Flashcard, threshold float64) Result {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}

	var res Result
	claimed := make(map[int64]bool, len(existing))
	matched := make(map[int]bool, len(parsed))

	// Phase 1: exact. Multiple existing cards can share a key after manual
	// edits; the map keeps the first and the rest fall through to phase 3.
	byKey := make(map[string]int64, len(existing))
	for _, ex := range existing {
		key := ContentKey(ex.Front, ex.Back)
		if _, ok := byKey[key]; !ok {
			byKey[key] = ex.ID
		}
	}
	for i, pc := range parsed {
		id, ok := byKey[ContentKey(pc.Front, pc.Back)]
		if !ok || claimed[id] {
			continue
		}
		claimed[id] = true
		matched[i] = true
		res.Exact = append(res.Exact, ExactMatch{ParsedIndex: i, ExistingID: id})
	}

	// Phase 2: fuzzy, greedy, single pass in parsed order. A claim is never
	// reconsidered.
	for i, pc := range parsed {
		if matched[i] {
			continue
		}
		best := -1.0
		var bestID int64
		for _, ex := range existing {
			if claimed[ex.ID] {
				continue
			}
			score := Score(pc.Front, pc.Back, ex.Front, ex.Back)
			if score > best {
				best = score
				bestID = ex.ID
			}
		}
		if best >= threshold {
			claimed[bestID] = true
			matched[i] = true
			res.Fuzzy = append(res.Fuzzy, FuzzyMatch{ParsedIndex: i, ExistingID: bestID, Score: best})
		}
	}

	// Phase 3: leftovers.
	for i := range parsed {
		if !matched[i] {
			res.New = append(res.New, i)
		}
	}
	for _, ex := range existing {
		if !claimed[ex.ID] {
			res.Removed = append(res.Removed, ex.ID)
		}
	}
	return res
}

// Score computes the weighted similarity of two cards:
// 0.7 * jaccard(fronts) + 0.3 * jaccard(backs).
func Score(front, back, otherFront, otherBack string) float64 {
	return 0.7*wordJaccard(front, otherFront) + 0.3*wordJaccard(back, otherBack)
}

// wordJaccard computes |A ∩ B| / |A ∪ B| over normalized word sets.
func wordJaccard(a, b string) float64 {
	wordsA := strings.Fields(Normalize(a))
	wordsB := strings.Fields(Normalize(b))
	if len(wordsA) == 0 && len(wordsB) == 0 {
		return 1
	}

	setA := make(map[string]bool, len(wordsA))
	for _, w := range wordsA {
		setA[w] = true
	}
	setB := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		setB[w] = true
	}

	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}
