package domain

import "time"

// Deck is a node in the deck tree. A deck with a SourcePath is backed by a
// markdown file; a deck without one is a pure collection folder.
type Deck struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	SourcePath     string    `json:"source_path,omitempty"`
	ParentID       *int64    `json:"parent_id,omitempty"`
	CollectionPath string    `json:"collection_path"`
	Tags           string    `json:"tags,omitempty"`
	Color          string    `json:"color,omitempty"`
	Icon           string    `json:"icon,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CardCount      int       `json:"card_count"`
}

// Flashcard is a single question-answer pair belonging to exactly one deck.
// SourceFile and SourceLine record the last known location in the markdown
// that produced it; they are used for re-association, never for identity.
type Flashcard struct {
	ID         int64     `json:"id"`
	DeckID     int64     `json:"deck_id"`
	Front      string    `json:"front"`
	Back       string    `json:"back"`
	MediaPaths []string  `json:"media_paths,omitempty"`
	SourceFile string    `json:"source_file,omitempty"`
	SourceLine int       `json:"source_line,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CardState holds the scheduling state of a card. Exactly one exists per
// flashcard, created together with it, and is mutated only by the scheduler.
type CardState struct {
	CardID        int64      `json:"card_id"`
	Due           time.Time  `json:"due"`
	Stability     float64    `json:"stability"`
	Difficulty    float64    `json:"difficulty"`
	ElapsedDays   int        `json:"elapsed_days"`
	ScheduledDays int        `json:"scheduled_days"`
	LearningSteps int        `json:"learning_steps"`
	Reps          int        `json:"reps"`
	Lapses        int        `json:"lapses"`
	State         State      `json:"state"`
	LastReview    *time.Time `json:"last_review,omitempty"`
}

// ReviewLog records a single review event for a card. Entries are append-only.
// The numeric fields snapshot the card state after the review was applied,
// except ScheduledDays, which captures the interval that had been scheduled
// before the review.
type ReviewLog struct {
	ID            int64     `json:"id"`
	CardID        int64     `json:"card_id"`
	Rating        Rating    `json:"rating"`
	ScheduledDays int       `json:"scheduled_days"`
	ActualDays    int       `json:"actual_days"`
	ReviewDate    time.Time `json:"review_date"`
	Stability     float64   `json:"stability"`
	Difficulty    float64   `json:"difficulty"`
	ElapsedDays   int       `json:"elapsed_days"`
	Lapses        int       `json:"lapses"`
	Reps          int       `json:"reps"`
	State         State     `json:"state"`
}

// ParsedCard is a card as extracted from markdown, before it has any
// identity in the store.
type ParsedCard struct {
	Front      string   `json:"front" validate:"required,max=1000"`
	Back       string   `json:"back" validate:"required,max=5000"`
	MediaPaths []string `json:"media_paths,omitempty"`
	SourceLine int      `json:"source_line"`
}

// StudyCard is the denormalized view a study session works with.
type StudyCard struct {
	Card     Flashcard `json:"card"`
	State    CardState `json:"state"`
	DeckName string    `json:"deck_name"`
}
