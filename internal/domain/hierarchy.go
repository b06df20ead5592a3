package domain

import "sort"

// PathSeparator joins the segments of a deck's collection path.
const PathSeparator = "::"

// JoinPath builds a child's collection path from its parent's path and its
// own name. A root deck's collection path is just its name.
func JoinPath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + PathSeparator + name
}

// DeckNode is a deck together with its children in the hierarchy.
type DeckNode struct {
	Deck     *Deck       `json:"deck"`
	Children []*DeckNode `json:"children,omitempty"`
}

// BuildHierarchy assembles a flat deck list into a forest of root nodes.
// Children are sorted by name; input order does not matter. Decks whose
// parent is missing from the input are treated as roots.
func BuildHierarchy(decks []Deck) []*DeckNode {
	nodes := make(map[int64]*DeckNode, len(decks))
	for i := range decks {
		nodes[decks[i].ID] = &DeckNode{Deck: &decks[i]}
	}

	var roots []*DeckNode
	for i := range decks {
		n := nodes[decks[i].ID]
		if pid := decks[i].ParentID; pid != nil {
			if parent, ok := nodes[*pid]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}

	var sortChildren func(ns []*DeckNode)
	sortChildren = func(ns []*DeckNode) {
		sort.Slice(ns, func(i, j int) bool { return ns[i].Deck.Name < ns[j].Deck.Name })
		for _, n := range ns {
			sortChildren(n.Children)
		}
	}
	sortChildren(roots)
	return roots
}
