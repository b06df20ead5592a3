package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mdstudy/mdstudy/internal/domain"
)

const cardColumns = `id, deck_id, front, back, media_paths, source_file, source_line, created_at, updated_at`

// mediaSeparator joins media paths in a single column. Paths never contain
// newlines.
const mediaSeparator = "\n"

func joinMedia(paths []string) string {
	return strings.Join(paths, mediaSeparator)
}

func splitMedia(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, mediaSeparator)
}

func scanCard(row interface{ Scan(...any) error }) (domain.Flashcard, error) {
	var c domain.Flashcard
	var media string
	var sourceFile sql.NullString
	var sourceLine sql.NullInt64
	err := row.Scan(&c.ID, &c.DeckID, &c.Front, &c.Back, &media,
		&sourceFile, &sourceLine, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Flashcard{}, err
	}
	c.MediaPaths = splitMedia(media)
	c.SourceFile = sourceFile.String
	c.SourceLine = int(sourceLine.Int64)
	return c, nil
}

// GetCard retrieves a flashcard by id. Returns domain.ErrNotFound if absent.
func (db *DB) GetCard(id int64) (*domain.Flashcard, error) {
	row := db.conn.QueryRow(`SELECT `+cardColumns+` FROM flashcards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("card %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get card %d: %w", id, err)
	}
	return &c, nil
}

func getCardsByDeck(q dbtx, deckID int64) ([]domain.Flashcard, error) {
	rows, err := q.Query(`SELECT `+cardColumns+` FROM flashcards WHERE deck_id = ? ORDER BY id`, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for deck %d: %w", deckID, err)
	}
	defer rows.Close()

	var cards []domain.Flashcard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// GetCardsByDeck retrieves all flashcards in a deck.
func (db *DB) GetCardsByDeck(deckID int64) ([]domain.Flashcard, error) {
	return getCardsByDeck(db.conn, deckID)
}

// GetCardsByDeck retrieves all flashcards in a deck inside the transaction.
func (tx *Tx) GetCardsByDeck(deckID int64) ([]domain.Flashcard, error) {
	return getCardsByDeck(tx.tx, deckID)
}

const stateColumns = `card_id, due, stability, difficulty, elapsed_days, scheduled_days, learning_steps, reps, lapses, state, last_review`

func scanState(row interface{ Scan(...any) error }) (domain.CardState, error) {
	var s domain.CardState
	var lastReview sql.NullTime
	err := row.Scan(&s.CardID, &s.Due, &s.Stability, &s.Difficulty, &s.ElapsedDays,
		&s.ScheduledDays, &s.LearningSteps, &s.Reps, &s.Lapses, &s.State, &lastReview)
	if err != nil {
		return domain.CardState{}, err
	}
	if lastReview.Valid {
		v := lastReview.Time
		s.LastReview = &v
	}
	return s, nil
}

// GetCardState retrieves a card's scheduling state.
// Returns domain.ErrNotFound if absent.
func (db *DB) GetCardState(cardID int64) (*domain.CardState, error) {
	row := db.conn.QueryRow(`SELECT `+stateColumns+` FROM card_states WHERE card_id = ?`, cardID)
	s, err := scanState(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("card state %d: %w", cardID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get card state %d: %w", cardID, err)
	}
	return &s, nil
}

func updateCardState(q dbtx, s *domain.CardState) error {
	var lastReview sql.NullTime
	if s.LastReview != nil {
		lastReview = sql.NullTime{Time: *s.LastReview, Valid: true}
	}
	_, err := q.Exec(`
		UPDATE card_states
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    learning_steps = ?, reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE card_id = ?
	`,
		s.Due, s.Stability, s.Difficulty, s.ElapsedDays, s.ScheduledDays,
		s.LearningSteps, s.Reps, s.Lapses, int(s.State), lastReview, time.Now(), s.CardID,
	)
	if err != nil {
		return fmt.Errorf("failed to update card state %d: %w", s.CardID, err)
	}
	return nil
}

// UpdateCardState persists a scheduling state mutation.
func (db *DB) UpdateCardState(s *domain.CardState) error { return updateCardState(db.conn, s) }

// UpdateCardState persists a scheduling state mutation inside the transaction.
func (tx *Tx) UpdateCardState(s *domain.CardState) error { return updateCardState(tx.tx, s) }

func insertReview(q dbtx, r *domain.ReviewLog) error {
	res, err := q.Exec(`
		INSERT INTO reviews (card_id, rating, scheduled_days, actual_days, review_date,
		                     stability, difficulty, elapsed_days, lapses, reps, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.CardID, int(r.Rating), r.ScheduledDays, r.ActualDays, r.ReviewDate,
		r.Stability, r.Difficulty, r.ElapsedDays, r.Lapses, r.Reps, int(r.State),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review for card %d: %w", r.CardID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get review id for card %d: %w", r.CardID, err)
	}
	r.ID = id
	return nil
}

// InsertReview appends a review log entry.
func (db *DB) InsertReview(r *domain.ReviewLog) error { return insertReview(db.conn, r) }

// InsertReview appends a review log entry inside the transaction.
func (tx *Tx) InsertReview(r *domain.ReviewLog) error { return insertReview(tx.tx, r) }

// GetReviews retrieves a card's full review history, oldest first.
func (db *DB) GetReviews(cardID int64) ([]domain.ReviewLog, error) {
	rows, err := db.conn.Query(`
		SELECT id, card_id, rating, scheduled_days, actual_days, review_date,
		       stability, difficulty, elapsed_days, lapses, reps, state
		FROM reviews WHERE card_id = ? ORDER BY review_date, id
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviews for card %d: %w", cardID, err)
	}
	defer rows.Close()

	var logs []domain.ReviewLog
	for rows.Next() {
		var r domain.ReviewLog
		if err := rows.Scan(&r.ID, &r.CardID, &r.Rating, &r.ScheduledDays, &r.ActualDays,
			&r.ReviewDate, &r.Stability, &r.Difficulty, &r.ElapsedDays, &r.Lapses, &r.Reps, &r.State); err != nil {
			return nil, fmt.Errorf("failed to scan review row: %w", err)
		}
		logs = append(logs, r)
	}
	return logs, rows.Err()
}

// InsertCard creates a flashcard together with its fresh scheduling state
// (New, due immediately) inside the transaction. The card's ID is filled in.
func (tx *Tx) InsertCard(c *domain.Flashcard, now time.Time) error {
	res, err := tx.tx.Exec(`
		INSERT INTO flashcards (deck_id, front, back, media_paths, source_file, source_line, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.DeckID, c.Front, c.Back, joinMedia(c.MediaPaths),
		nullString(c.SourceFile), c.SourceLine, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get card id: %w", err)
	}
	c.ID = id

	_, err = tx.tx.Exec(`
		INSERT INTO card_states (card_id, due, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, now, int(domain.StateNew), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert card state for card %d: %w", id, err)
	}
	return nil
}

// UpdateCardLocation refreshes only a card's source position and media
// references; the content is untouched.
func (tx *Tx) UpdateCardLocation(id int64, media []string, sourceFile string, sourceLine int) error {
	_, err := tx.tx.Exec(`
		UPDATE flashcards SET media_paths = ?, source_file = ?, source_line = ?, updated_at = ?
		WHERE id = ?
	`, joinMedia(media), nullString(sourceFile), sourceLine, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update card location %d: %w", id, err)
	}
	return nil
}

// UpdateCardContent overwrites a card's front, back, media, and source
// position while leaving its scheduling state alone.
func (tx *Tx) UpdateCardContent(id int64, front, back string, media []string, sourceFile string, sourceLine int) error {
	_, err := tx.tx.Exec(`
		UPDATE flashcards SET front = ?, back = ?, media_paths = ?, source_file = ?, source_line = ?, updated_at = ?
		WHERE id = ?
	`, front, back, joinMedia(media), nullString(sourceFile), sourceLine, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update card content %d: %w", id, err)
	}
	return nil
}

// DeleteCard removes a flashcard; its state and reviews cascade.
func (tx *Tx) DeleteCard(id int64) error {
	if _, err := tx.tx.Exec(`DELETE FROM flashcards WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete card %d: %w", id, err)
	}
	return nil
}

const studyCardQuery = `
	SELECT f.id, f.deck_id, f.front, f.back, f.media_paths, f.source_file, f.source_line, f.created_at, f.updated_at,
	       s.card_id, s.due, s.stability, s.difficulty, s.elapsed_days, s.scheduled_days,
	       s.learning_steps, s.reps, s.lapses, s.state, s.last_review,
	       d.name
	FROM flashcards f
	JOIN card_states s ON s.card_id = f.id
	JOIN decks d ON d.id = f.deck_id
`

func (db *DB) queryStudyCards(query string, args ...any) ([]domain.StudyCard, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query study cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.StudyCard
	for rows.Next() {
		var sc domain.StudyCard
		var media string
		var sourceFile sql.NullString
		var sourceLine sql.NullInt64
		var lastReview sql.NullTime
		err := rows.Scan(
			&sc.Card.ID, &sc.Card.DeckID, &sc.Card.Front, &sc.Card.Back, &media,
			&sourceFile, &sourceLine, &sc.Card.CreatedAt, &sc.Card.UpdatedAt,
			&sc.State.CardID, &sc.State.Due, &sc.State.Stability, &sc.State.Difficulty,
			&sc.State.ElapsedDays, &sc.State.ScheduledDays, &sc.State.LearningSteps,
			&sc.State.Reps, &sc.State.Lapses, &sc.State.State, &lastReview,
			&sc.DeckName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan study card row: %w", err)
		}
		sc.Card.MediaPaths = splitMedia(media)
		sc.Card.SourceFile = sourceFile.String
		sc.Card.SourceLine = int(sourceLine.Int64)
		if lastReview.Valid {
			v := lastReview.Time
			sc.State.LastReview = &v
		}
		cards = append(cards, sc)
	}
	return cards, rows.Err()
}

// GetDueCards returns cards in the given decks whose due time has passed,
// ordered by ascending due time, capped at limit.
func (db *DB) GetDueCards(deckIDs []int64, now time.Time, limit int) ([]domain.StudyCard, error) {
	if len(deckIDs) == 0 {
		return nil, nil
	}
	query := studyCardQuery + `
		WHERE f.deck_id IN (` + placeholders(len(deckIDs)) + `) AND s.due <= ?
		ORDER BY s.due ASC
		LIMIT ?`
	args := make([]any, 0, len(deckIDs)+2)
	for _, id := range deckIDs {
		args = append(args, id)
	}
	args = append(args, now, limit)
	return db.queryStudyCards(query, args...)
}

// GetNewCards returns never-reviewed cards in the given decks, oldest first,
// capped at limit.
func (db *DB) GetNewCards(deckIDs []int64, limit int) ([]domain.StudyCard, error) {
	if len(deckIDs) == 0 {
		return nil, nil
	}
	query := studyCardQuery + `
		WHERE f.deck_id IN (` + placeholders(len(deckIDs)) + `) AND s.state = ?
		ORDER BY f.created_at ASC, f.id ASC
		LIMIT ?`
	args := make([]any, 0, len(deckIDs)+2)
	for _, id := range deckIDs {
		args = append(args, id)
	}
	args = append(args, int(domain.StateNew), limit)
	return db.queryStudyCards(query, args...)
}

// GetStudyCard returns the denormalized study view of a single card.
func (db *DB) GetStudyCard(cardID int64) (*domain.StudyCard, error) {
	cards, err := db.queryStudyCards(studyCardQuery+` WHERE f.id = ?`, cardID)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("card %d: %w", cardID, domain.ErrNotFound)
	}
	return &cards[0], nil
}
