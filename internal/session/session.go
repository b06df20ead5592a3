// Package session builds and runs study sessions: it selects due and new
// cards into an ordered queue, drives the scheduler on every answer, and
// re-inserts failed cards so they come back later in the same sitting.
//
// A session is a plain object owned by the caller. It is not safe for
// concurrent answers; the caller serializes access (one active card at a
// time).
package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/mdstudy/mdstudy/internal/domain"
	"github.com/mdstudy/mdstudy/internal/fsrs"
	"github.com/mdstudy/mdstudy/internal/storage"
)

// Mode selects which cards a session draws from.
type Mode int

const (
	ModeDue Mode = iota // Cards whose due time has passed.
	ModeNew             // Never-reviewed cards.
	ModeAll             // Union of both.
)

// Config tunes queue behavior. Zero values fall back to defaults.
type Config struct {
	LearnAhead  time.Duration // re-insertion window for failed cards; default 20m
	NewLimit    int           // default 20
	ReviewLimit int           // default 200
	RefillBatch int           // due re-query size at exhaustion; default 10
}

// Defaults for Config zero values.
const (
	defaultLearnAhead  = 20 * time.Minute
	defaultNewLimit    = 20
	defaultReviewLimit = 200
	defaultRefillBatch = 10

	// The remaining queue is reordered after this many answers.
	reorderInterval = 5

	// A failed card is only re-queued if it comes due at least this far out.
	reinsertMinDelay = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.LearnAhead <= 0 {
		c.LearnAhead = defaultLearnAhead
	}
	if c.NewLimit <= 0 {
		c.NewLimit = defaultNewLimit
	}
	if c.ReviewLimit <= 0 {
		c.ReviewLimit = defaultReviewLimit
	}
	if c.RefillBatch <= 0 {
		c.RefillBatch = defaultRefillBatch
	}
	return c
}

// Manager creates sessions and applies single-card reviews.
type Manager struct {
	db     *storage.DB
	params *fsrs.Params
	cfg    Config
}

// NewManager creates a Manager over the given store and scheduler params.
func NewManager(db *storage.DB, params *fsrs.Params, cfg Config) *Manager {
	return &Manager{db: db, params: params, cfg: cfg.withDefaults()}
}

// ReviewCard schedules a single card outside any session and persists the
// new state together with its review log entry in one transaction.
func (m *Manager) ReviewCard(cardID int64, rating domain.Rating, now time.Time) (*domain.CardState, error) {
	cs, err := m.db.GetCardState(cardID)
	if err != nil {
		return nil, err
	}
	next, log, err := m.params.Schedule(*cs, rating, now)
	if err != nil {
		return nil, err
	}
	err = m.db.WithTx(func(tx *storage.Tx) error {
		if err := tx.UpdateCardState(&next); err != nil {
			return err
		}
		return tx.InsertReview(&log)
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// PreviewCard returns the state each rating would produce for a card right
// now, together with its current predicted recall probability.
func (m *Manager) PreviewCard(cardID int64, now time.Time) (map[domain.Rating]domain.CardState, float64, error) {
	cs, err := m.db.GetCardState(cardID)
	if err != nil {
		return nil, 0, err
	}
	return m.params.Preview(*cs, now), m.params.Retrievability(*cs, now), nil
}

// Options configures session start.
type Options struct {
	DeckID          int64 // 0 selects all decks
	Mode            Mode
	IncludeChildren bool
	NewLimit        int // 0 uses the manager default
	ReviewLimit     int // 0 uses the manager default
}

// Session is an in-progress study run. Cards before the cursor have been
// shown; cards at and after it are still pending.
type Session struct {
	mgr       *Manager
	deckIDs   []int64
	queue     []domain.StudyCard
	cursor    int
	startedAt time.Time
	reviewed  int
	done      bool

	// holdUntil records, per re-inserted failed card, the answer count at
	// which it may surface. The periodic reorder must not lift a failed card
	// past this spacing floor.
	holdUntil map[int64]int
}

// Start builds a session queue. It returns nil (no error) when nothing is
// available to study.
func (m *Manager) Start(opts Options) (*Session, error) {
	deckIDs, err := m.resolveDecks(opts)
	if err != nil {
		return nil, err
	}

	newLimit := opts.NewLimit
	if newLimit <= 0 {
		newLimit = m.cfg.NewLimit
	}
	reviewLimit := opts.ReviewLimit
	if reviewLimit <= 0 {
		reviewLimit = m.cfg.ReviewLimit
	}

	now := time.Now()
	var queue []domain.StudyCard
	seen := make(map[int64]bool)

	add := func(cards []domain.StudyCard) {
		for _, c := range cards {
			if !seen[c.Card.ID] {
				seen[c.Card.ID] = true
				queue = append(queue, c)
			}
		}
	}

	if opts.Mode == ModeDue || opts.Mode == ModeAll {
		due, err := m.db.GetDueCards(deckIDs, now, reviewLimit)
		if err != nil {
			return nil, err
		}
		add(due)
	}
	if opts.Mode == ModeNew || opts.Mode == ModeAll {
		fresh, err := m.db.GetNewCards(deckIDs, newLimit)
		if err != nil {
			return nil, err
		}
		add(fresh)
	}

	if len(queue) == 0 {
		return nil, nil
	}

	sortInitial(queue, now)

	return &Session{
		mgr:       m,
		deckIDs:   deckIDs,
		queue:     queue,
		startedAt: now,
		holdUntil: make(map[int64]int),
	}, nil
}

func (m *Manager) resolveDecks(opts Options) ([]int64, error) {
	if opts.DeckID == 0 {
		decks, err := m.db.ListDecks()
		if err != nil {
			return nil, err
		}
		ids := make([]int64, len(decks))
		for i, d := range decks {
			ids[i] = d.ID
		}
		return ids, nil
	}
	if opts.IncludeChildren {
		return m.db.SubtreeDeckIDs(opts.DeckID)
	}
	if _, err := m.db.GetDeck(opts.DeckID); err != nil {
		return nil, err
	}
	return []int64{opts.DeckID}, nil
}

// Current returns the card awaiting an answer, or nil when the session is
// over.
func (s *Session) Current() *domain.StudyCard {
	if s.done || s.cursor >= len(s.queue) {
		return nil
	}
	return &s.queue[s.cursor]
}

// Reviewed returns how many answers this session has processed.
func (s *Session) Reviewed() int { return s.reviewed }

// Remaining returns how many cards are still pending.
func (s *Session) Remaining() int {
	if s.done {
		return 0
	}
	return len(s.queue) - s.cursor
}

// StartedAt returns the session start time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Answer rates the current card: the scheduler computes the new state, the
// store persists it with its review entry, and the queue advances. A card
// rated Again that comes due within the learn-ahead window is re-inserted
// into the remaining queue with a spacing buffer so it never reappears
// immediately. It returns the next card, or nil when the session is over.
func (s *Session) Answer(rating domain.Rating) (*domain.StudyCard, error) {
	current := s.Current()
	if current == nil {
		return nil, domain.ErrSessionClosed
	}

	now := time.Now()
	next, log, err := s.mgr.params.Schedule(current.State, rating, now)
	if err != nil {
		return nil, err
	}
	err = s.mgr.db.WithTx(func(tx *storage.Tx) error {
		if err := tx.UpdateCardState(&next); err != nil {
			return err
		}
		return tx.InsertReview(&log)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist review: %w", err)
	}

	current.State = next
	s.reviewed++
	s.cursor++
	delete(s.holdUntil, current.Card.ID)

	if rating == domain.Again {
		s.maybeReinsert(domain.StudyCard{Card: current.Card, State: next, DeckName: current.DeckName}, now)
	}

	if s.reviewed%reorderInterval == 0 {
		remaining := s.queue[s.cursor:]
		reorderRemaining(remaining, now, s.mgr.cfg.LearnAhead)
		s.enforceSpacing(remaining)
	}

	if s.cursor >= len(s.queue) {
		if err := s.refill(); err != nil {
			return nil, err
		}
	}

	card := s.Current()
	if card == nil {
		s.done = true
	}
	return card, nil
}

// maybeReinsert puts a failed card back into the pending queue if it comes
// due inside the learn-ahead window.
func (s *Session) maybeReinsert(card domain.StudyCard, now time.Time) {
	until := card.State.Due.Sub(now)
	if until < reinsertMinDelay || until > s.mgr.cfg.LearnAhead {
		return
	}
	s.holdUntil[card.Card.ID] = s.reviewed + reinsertBuffer(until)
	remaining := s.queue[s.cursor:]
	idx := reinsertIndex(remaining, card.State.Due, now)

	rebuilt := make([]domain.StudyCard, 0, len(remaining)+1)
	rebuilt = append(rebuilt, remaining[:idx]...)
	rebuilt = append(rebuilt, card)
	rebuilt = append(rebuilt, remaining[idx:]...)
	s.queue = append(s.queue[:s.cursor], rebuilt...)
}

// reinsertIndex picks the position for a re-queued card: time-ordered among
// the cards already due, but never closer than the spacing buffer.
func reinsertIndex(remaining []domain.StudyCard, due, now time.Time) int {
	idx := sort.Search(len(remaining), func(i int) bool {
		return remaining[i].State.Due.After(due)
	})
	if buffer := reinsertBuffer(due.Sub(now)); idx < buffer {
		idx = buffer
	}
	if idx > len(remaining) {
		idx = len(remaining)
	}
	return idx
}

// reinsertBuffer is the minimum number of untouched cards that must appear
// before a re-queued card: max(2, min(5, floor(minutesUntilDue/2))).
// Empirical spacing; kept in one place for calibration.
func reinsertBuffer(untilDue time.Duration) int {
	if untilDue <= reinsertMinDelay {
		return 0
	}
	n := int(untilDue.Minutes()) / 2
	if n > 5 {
		n = 5
	}
	if n < 2 {
		n = 2
	}
	return n
}

// enforceSpacing pushes held failed cards back to their spacing floor after a
// reorder. The reorder prefers learning cards due soon, which would otherwise
// surface a just-failed card before its buffer of other cards has been
// consumed. Floors are processed largest first so a later move cannot drop an
// already-placed card below its own floor.
func (s *Session) enforceSpacing(remaining []domain.StudyCard) {
	type hold struct {
		id    int64
		floor int
	}
	holds := make([]hold, 0, len(s.holdUntil))
	for id, until := range s.holdUntil {
		floor := until - s.reviewed
		if floor <= 0 {
			delete(s.holdUntil, id)
			continue
		}
		holds = append(holds, hold{id: id, floor: floor})
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].floor > holds[j].floor })

	for _, h := range holds {
		idx := -1
		for i := range remaining {
			if remaining[i].Card.ID == h.id {
				idx = i
				break
			}
		}
		if idx < 0 {
			delete(s.holdUntil, h.id)
			continue
		}
		floor := h.floor
		if floor > len(remaining)-1 {
			floor = len(remaining) - 1
		}
		if idx >= floor {
			continue
		}
		card := remaining[idx]
		copy(remaining[idx:floor], remaining[idx+1:floor+1])
		remaining[floor] = card
	}
}

// reorderRemaining reorders the unshown part of the queue: cards due within
// the learn-ahead window come first, learning cards before review cards, and
// both groups are kept in ascending due order.
func reorderRemaining(remaining []domain.StudyCard, now time.Time, learnAhead time.Duration) {
	horizon := now.Add(learnAhead)
	sort.SliceStable(remaining, func(i, j int) bool {
		a, b := remaining[i], remaining[j]
		aSoon := !a.State.Due.After(horizon)
		bSoon := !b.State.Due.After(horizon)
		if aSoon != bSoon {
			return aSoon
		}
		if aSoon {
			aLearning := a.State.State == domain.StateLearning || a.State.State == domain.StateRelearning
			bLearning := b.State.State == domain.StateLearning || b.State.State == domain.StateRelearning
			if aLearning != bLearning {
				return aLearning
			}
		}
		return a.State.Due.Before(b.State.Due)
	})
}

// sortInitial orders a fresh queue: due-or-overdue cards first, then by
// ascending due time.
func sortInitial(queue []domain.StudyCard, now time.Time) {
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		aDue := !a.State.Due.After(now)
		bDue := !b.State.Due.After(now)
		if aDue != bDue {
			return aDue
		}
		return a.State.Due.Before(b.State.Due)
	})
}

// refill re-queries the store for cards that became due mid-session, such as
// failed cards whose re-insertion window expired, before the session ends.
func (s *Session) refill() error {
	due, err := s.mgr.db.GetDueCards(s.deckIDs, time.Now(), s.mgr.cfg.RefillBatch)
	if err != nil {
		return fmt.Errorf("failed to refill queue: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	s.queue = append(s.queue, due...)
	return nil
}
