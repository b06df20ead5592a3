package domain

import "testing"

func TestJoinPath(t *testing.T) {
	testCases := []struct {
		parent   string
		name     string
		expected string
	}{
		{"", "notes", "notes"},
		{"notes", "go", "notes::go"},
		{"notes::go", "slices", "notes::go::slices"},
	}
	for _, tc := range testCases {
		if got := JoinPath(tc.parent, tc.name); got != tc.expected {
			t.Errorf("JoinPath(%q, %q) = %q, want %q", tc.parent, tc.name, got, tc.expected)
		}
	}
}

func ptr(v int64) *int64 { return &v }

func TestBuildHierarchy(t *testing.T) {
	// Deliberately out of order: child before parent, roots interleaved.
	decks := []Deck{
		{ID: 3, Name: "slices", ParentID: ptr(2), CollectionPath: "notes::go::slices"},
		{ID: 1, Name: "notes", CollectionPath: "notes"},
		{ID: 4, Name: "work", CollectionPath: "work"},
		{ID: 2, Name: "go", ParentID: ptr(1), CollectionPath: "notes::go"},
		{ID: 5, Name: "maps", ParentID: ptr(2), CollectionPath: "notes::go::maps"},
	}

	roots := BuildHierarchy(decks)
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(roots))
	}
	if roots[0].Deck.Name != "notes" || roots[1].Deck.Name != "work" {
		t.Fatalf("roots not sorted by name: %s, %s", roots[0].Deck.Name, roots[1].Deck.Name)
	}

	goNode := roots[0].Children[0]
	if goNode.Deck.Name != "go" {
		t.Fatalf("expected go under notes, got %s", goNode.Deck.Name)
	}
	if len(goNode.Children) != 2 {
		t.Fatalf("expected 2 children under go, got %d", len(goNode.Children))
	}
	if goNode.Children[0].Deck.Name != "maps" || goNode.Children[1].Deck.Name != "slices" {
		t.Errorf("children not sorted: %s, %s", goNode.Children[0].Deck.Name, goNode.Children[1].Deck.Name)
	}
}

func TestBuildHierarchyOrphanedParentBecomesRoot(t *testing.T) {
	decks := []Deck{
		{ID: 2, Name: "go", ParentID: ptr(99), CollectionPath: "notes::go"},
	}
	roots := BuildHierarchy(decks)
	if len(roots) != 1 || roots[0].Deck.ID != 2 {
		t.Fatalf("deck with missing parent should surface as a root: %+v", roots)
	}
}

func TestBuildHierarchyEmpty(t *testing.T) {
	if roots := BuildHierarchy(nil); len(roots) != 0 {
		t.Errorf("expected no roots, got %d", len(roots))
	}
}
