package domain

import "fmt"

// State is the lifecycle stage of a card. The numeric values are persisted,
// so the order is part of the storage format.
type State int

const (
	StateNew        State = iota // Never reviewed.
	StateLearning                // In initial sub-day learning steps.
	StateReview                  // Graduated into the long-interval cycle.
	StateRelearning              // Lapsed out of Review, repeating steps.
)

var stateNames = [...]string{
	StateNew:        "New",
	StateLearning:   "Learning",
	StateReview:     "Review",
	StateRelearning: "Relearning",
}

// IsValid reports whether s is one of the four lifecycle states.
func (s State) IsValid() bool {
	return s >= StateNew && s <= StateRelearning
}

// String returns the name of the state. For invalid values it returns
// "State(n)".
func (s State) String() string {
	if s.IsValid() {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}
