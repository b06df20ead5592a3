package storage

const schema = `
-- 'decks' form a tree. A deck with a source_path mirrors one markdown file;
-- a deck without one is a collection folder. collection_path materializes
-- the ancestor chain joined by '::'.
CREATE TABLE IF NOT EXISTS decks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    source_path TEXT,
    parent_id INTEGER REFERENCES decks(id) ON DELETE CASCADE,
    collection_path TEXT NOT NULL UNIQUE,
    tags TEXT NOT NULL DEFAULT '',
    color TEXT NOT NULL DEFAULT '',
    icon TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS flashcards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    deck_id INTEGER NOT NULL REFERENCES decks(id) ON DELETE CASCADE,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    media_paths TEXT NOT NULL DEFAULT '',
    source_file TEXT,
    source_line INTEGER,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

-- Exactly one scheduling state per flashcard, created with it.
-- state: 0 New, 1 Learning, 2 Review, 3 Relearning.
CREATE TABLE IF NOT EXISTS card_states (
    card_id INTEGER PRIMARY KEY REFERENCES flashcards(id) ON DELETE CASCADE,
    due DATETIME NOT NULL,
    stability REAL NOT NULL DEFAULT 0,
    difficulty REAL NOT NULL DEFAULT 0,
    elapsed_days INTEGER NOT NULL DEFAULT 0,
    scheduled_days INTEGER NOT NULL DEFAULT 0,
    learning_steps INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    state INTEGER NOT NULL DEFAULT 0,
    last_review DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

-- Append-only review history. Snapshots are taken after the review.
CREATE TABLE IF NOT EXISTS reviews (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    card_id INTEGER NOT NULL REFERENCES flashcards(id) ON DELETE CASCADE,
    rating INTEGER NOT NULL,
    scheduled_days INTEGER NOT NULL,
    actual_days INTEGER NOT NULL,
    review_date DATETIME NOT NULL,
    stability REAL NOT NULL,
    difficulty REAL NOT NULL,
    elapsed_days INTEGER NOT NULL,
    lapses INTEGER NOT NULL,
    reps INTEGER NOT NULL,
    state INTEGER NOT NULL
);

-- Registered card sources: local directories or git repositories.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL DEFAULT 'local',
    last_scanned DATETIME
);

CREATE INDEX IF NOT EXISTS idx_flashcards_deck ON flashcards(deck_id);
CREATE INDEX IF NOT EXISTS idx_card_states_due ON card_states(due);
CREATE INDEX IF NOT EXISTS idx_reviews_card ON reviews(card_id);
`
