package sync

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mdstudy/mdstudy/internal/domain"
	"github.com/mdstudy/mdstudy/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

const twoCards = `# Go notes

## Flash: What is a goroutine?
### Answer: A lightweight thread managed by the Go runtime.

## Flash: What is a channel?
### Answer: A typed conduit for communication between goroutines.
`

func TestSyncFileCreatesCardsAndDecks(t *testing.T) {
	db := openTestDB(t)
	r := New(db, 0)

	res, err := r.SyncFile("notes/go/basics.md", twoCards)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 2 || res.Updated != 0 || res.Deleted != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// The path segments become a deck chain with the leaf owning the file.
	for _, cp := range []string{"notes", "notes::go", "notes::go::basics"} {
		deck, err := db.GetDeckByPath(cp)
		if err != nil {
			t.Fatal(err)
		}
		if deck == nil {
			t.Fatalf("deck %q not created", cp)
		}
	}
	leaf, _ := db.GetDeckByPath("notes::go::basics")
	if leaf.SourcePath != "notes/go/basics.md" {
		t.Errorf("leaf source path = %q", leaf.SourcePath)
	}
	mid, _ := db.GetDeckByPath("notes::go")
	if mid.ParentID == nil || mid.SourcePath != "" {
		t.Errorf("collection deck malformed: %+v", mid)
	}

	cards, err := db.GetCardsByDeck(leaf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}
	for _, c := range cards {
		state, err := db.GetCardState(c.ID)
		if err != nil {
			t.Fatalf("card %d has no state: %v", c.ID, err)
		}
		if state.State != domain.StateNew || state.Stability != 0 || state.Difficulty != 0 {
			t.Errorf("fresh state not New/zeroed: %+v", state)
		}
	}
}

func TestSyncFileIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	r := New(db, 0)

	if _, err := r.SyncFile("go.md", twoCards); err != nil {
		t.Fatal(err)
	}
	res, err := r.SyncFile("go.md", twoCards)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Deleted != 0 {
		t.Errorf("second sync of identical text must be a no-op: %+v", res)
	}
	if res.Unchanged != 2 {
		t.Errorf("unchanged = %d, want 2", res.Unchanged)
	}
}

func TestSyncFileReorderOnlyMovesSourceLines(t *testing.T) {
	db := openTestDB(t)
	r := New(db, 0)

	if _, err := r.SyncFile("go.md", twoCards); err != nil {
		t.Fatal(err)
	}
	deck, _ := db.GetDeckByPath("go")
	before, _ := db.GetCardsByDeck(deck.ID)

	reordered := `## Flash: What is a channel?
### Answer: A typed conduit for communication between goroutines.

## Flash: What is a goroutine?
### Answer: A lightweight thread managed by the Go runtime.
`
	res, err := r.SyncFile("go.md", reordered)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || res.Deleted != 0 {
		t.Fatalf("reorder must not create or delete: %+v", res)
	}

	after, _ := db.GetCardsByDeck(deck.ID)
	if len(after) != len(before) {
		t.Fatalf("card count changed: %d -> %d", len(before), len(after))
	}
	byID := make(map[int64]domain.Flashcard)
	for _, c := range after {
		byID[c.ID] = c
	}
	for _, c := range before {
		got, ok := byID[c.ID]
		if !ok {
			t.Fatalf("card %d lost its identity", c.ID)
		}
		if got.Front != c.Front || got.Back != c.Back {
			t.Errorf("content changed on reorder: %+v", got)
		}
		if got.SourceLine == c.SourceLine {
			t.Errorf("source line should have moved for card %d", c.ID)
		}
	}
}

func TestSyncFileFuzzyEditKeepsIdentity(t *testing.T) {
	db := openTestDB(t)
	r := New(db, 0)

	if _, err := r.SyncFile("go.md", twoCards); err != nil {
		t.Fatal(err)
	}
	deck, _ := db.GetDeckByPath("go")
	before, _ := db.GetCardsByDeck(deck.ID)

	edited := strings.Replace(twoCards,
		"A lightweight thread managed by the Go runtime.",
		"A lightweight thread managed by the Go scheduler runtime.", 1)
	res, err := r.SyncFile("go.md", edited)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || res.Deleted != 0 || res.Updated != 1 {
		t.Fatalf("light edit should be one fuzzy update: %+v", res)
	}

	after, _ := db.GetCardsByDeck(deck.ID)
	if len(after) != len(before) {
		t.Fatalf("card count changed: %d -> %d", len(before), len(after))
	}
}

func TestSyncFileDeletionIsScoped(t *testing.T) {
	db := openTestDB(t)
	r := New(db, 0)

	if _, err := r.SyncFile("go.md", twoCards); err != nil {
		t.Fatal(err)
	}
	deck, _ := db.GetDeckByPath("go")
	cards, _ := db.GetCardsByDeck(deck.ID)
	kept, removed := cards[0], cards[1]

	// Give the kept card some history that must survive.
	if err := db.InsertReview(&domain.ReviewLog{
		CardID: kept.ID, Rating: domain.Good, ReviewDate: time.Now(),
		Stability: 3, Difficulty: 5, Reps: 1, State: domain.StateLearning,
	}); err != nil {
		t.Fatal(err)
	}

	// Remove the second card's block from the markdown.
	lines := strings.SplitN(twoCards, "## Flash: What is a channel?", 2)
	res, err := r.SyncFile("go.md", lines[0])
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 1 || res.Created != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := db.GetCardState(removed.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("removed card's state should cascade away, got %v", err)
	}
	if reviews, _ := db.GetReviews(removed.ID); len(reviews) != 0 {
		t.Errorf("removed card's reviews should cascade away, got %d", len(reviews))
	}

	if _, err := db.GetCardState(kept.ID); err != nil {
		t.Errorf("kept card lost its state: %v", err)
	}
	if reviews, _ := db.GetReviews(kept.ID); len(reviews) != 1 {
		t.Errorf("kept card lost its history: %d reviews", len(reviews))
	}
}

func TestDeckCreationRollsBackWithFile(t *testing.T) {
	db := openTestDB(t)
	r := New(db, 0)

	// Deck creation shares the reconcile transaction, so a failure after the
	// deck walk must not leave empty deck rows behind.
	boom := errors.New("reconcile failed")
	err := db.WithTx(func(tx *storage.Tx) error {
		deck, err := r.ensureDeckForFile(tx, "notes/go/basics.md")
		if err != nil {
			return err
		}
		if deck.SourcePath != "notes/go/basics.md" {
			t.Errorf("leaf source path = %q", deck.SourcePath)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	for _, cp := range []string{"notes", "notes::go", "notes::go::basics"} {
		deck, err := db.GetDeckByPath(cp)
		if err != nil {
			t.Fatal(err)
		}
		if deck != nil {
			t.Errorf("deck %q survived rollback", cp)
		}
	}
}

func TestSyncFileValidation(t *testing.T) {
	db := openTestDB(t)
	r := New(db, 0)

	longFront := strings.Repeat("x", 1001)
	text := "## Flash: " + longFront + "\n### Answer: fine\n\n## Flash: ok\n### Answer: also fine\n"
	res, err := r.SyncFile("go.md", text)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected one validation error, got %+v", res.Errors)
	}
	if res.Errors[0].Field != "front" || res.Errors[0].SourceLine != 1 {
		t.Errorf("unexpected error detail: %+v", res.Errors[0])
	}
	if res.Created != 1 {
		t.Errorf("valid card should still sync: %+v", res)
	}
}

func TestSyncFileInvalidCardReplacesExisting(t *testing.T) {
	db := openTestDB(t)
	r := New(db, 0)

	if _, err := r.SyncFile("go.md", "## Flash: q\n### Answer: a\n"); err != nil {
		t.Fatal(err)
	}

	// The same card with an oversize back is rejected and therefore treated
	// as absent, so the stored card is removed.
	invalid := "## Flash: q\n### Answer: " + strings.Repeat("y", 5001) + "\n"
	res, err := r.SyncFile("go.md", invalid)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 || res.Deleted != 1 || res.Created != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestDetectSourceKind(t *testing.T) {
	testCases := []struct {
		path     string
		expected string
	}{
		{"/home/user/notes", "local"},
		{"notes", "local"},
		{"https://example.com/decks.git", "git"},
		{"https://example.com/decks", "git"},
		{"git@example.com:user/decks.git", "git"},
	}
	for _, tc := range testCases {
		if got := DetectSourceKind(tc.path); got != tc.expected {
			t.Errorf("DetectSourceKind(%q) = %q, want %q", tc.path, got, tc.expected)
		}
	}
}
