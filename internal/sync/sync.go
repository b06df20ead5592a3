// Package sync reconciles markdown files with the persistent card store.
// Each file is one unit of work: parse, validate, match against the cards
// already stored for that file's deck, then apply creates, updates, and
// deletes inside a single transaction so a partial failure leaves the store
// untouched.
package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	stdsync "sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mdstudy/mdstudy/internal/domain"
	"github.com/mdstudy/mdstudy/internal/match"
	"github.com/mdstudy/mdstudy/internal/parser"
	"github.com/mdstudy/mdstudy/internal/storage"
)

// ValidationError reports one rejected card. It is non-fatal: the card is
// excluded from matching and the rest of the file proceeds.
type ValidationError struct {
	SourceLine int    `json:"source_line"`
	Field      string `json:"field"`
	Message    string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("line %d: %s %s", e.SourceLine, e.Field, e.Message)
}

// Result summarizes one file reconciliation.
type Result struct {
	Path      string            `json:"path"`
	Parsed    int               `json:"parsed"`
	Created   int               `json:"created"`
	Updated   int               `json:"updated"`
	Deleted   int               `json:"deleted"`
	Unchanged int               `json:"unchanged"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

// Reconciler synchronizes markdown files into the store.
type Reconciler struct {
	db             *storage.DB
	validate       *validator.Validate
	fuzzyThreshold float64

	// Serializes file syncs: two concurrent syncs of the same file would
	// both read then rewrite the same existing-card set.
	mu stdsync.Mutex
}

// New creates a Reconciler. A threshold <= 0 uses the default fuzzy
// threshold.
func New(db *storage.DB, fuzzyThreshold float64) *Reconciler {
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = match.DefaultFuzzyThreshold
	}
	return &Reconciler{
		db:             db,
		validate:       validator.New(),
		fuzzyThreshold: fuzzyThreshold,
	}
}

// SyncFile reconciles one markdown file's text against the store.
func (r *Reconciler) SyncFile(path, text string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Result{Path: path}

	parsed := parser.Parse(text)
	res.Parsed = len(parsed)

	valid := make([]domain.ParsedCard, 0, len(parsed))
	for _, pc := range parsed {
		if verrs := r.validateCard(pc); len(verrs) > 0 {
			res.Errors = append(res.Errors, verrs...)
			continue
		}
		valid = append(valid, pc)
	}

	// Deck creation, the existing-card read, and the apply all share one
	// transaction so a mid-reconcile failure rolls freshly created decks
	// back along with everything else.
	err := r.db.WithTx(func(tx *storage.Tx) error {
		deck, err := r.ensureDeckForFile(tx, path)
		if err != nil {
			return err
		}

		existing, err := tx.GetCardsByDeck(deck.ID)
		if err != nil {
			return err
		}
		byID := make(map[int64]domain.Flashcard, len(existing))
		for _, ex := range existing {
			byID[ex.ID] = ex
		}

		plan := match.Match(valid, existing, r.fuzzyThreshold)

		now := time.Now()
		for _, m := range plan.Exact {
			pc := valid[m.ParsedIndex]
			ex := byID[m.ExistingID]
			if ex.SourceFile == path && ex.SourceLine == pc.SourceLine && reflect.DeepEqual(ex.MediaPaths, pc.MediaPaths) {
				res.Unchanged++
				continue
			}
			if err := tx.UpdateCardLocation(m.ExistingID, pc.MediaPaths, path, pc.SourceLine); err != nil {
				return err
			}
			res.Updated++
		}
		for _, m := range plan.Fuzzy {
			pc := valid[m.ParsedIndex]
			if err := tx.UpdateCardContent(m.ExistingID, pc.Front, pc.Back, pc.MediaPaths, path, pc.SourceLine); err != nil {
				return err
			}
			res.Updated++
		}
		for _, idx := range plan.New {
			pc := valid[idx]
			card := domain.Flashcard{
				DeckID:     deck.ID,
				Front:      pc.Front,
				Back:       pc.Back,
				MediaPaths: pc.MediaPaths,
				SourceFile: path,
				SourceLine: pc.SourceLine,
			}
			if err := tx.InsertCard(&card, now); err != nil {
				return err
			}
			res.Created++
		}
		for _, id := range plan.Removed {
			if err := tx.DeleteCard(id); err != nil {
				return err
			}
			res.Deleted++
		}
		return nil
	})
	if err != nil {
		// The transaction rolled back; report the pre-sync store as intact.
		return Result{Path: path, Parsed: res.Parsed, Errors: res.Errors}, err
	}

	return res, nil
}

// SyncDir reconciles every .md file under root. One file's failure is logged
// and does not abort the rest.
func (r *Reconciler) SyncDir(root string) ([]Result, error) {
	var results []Result
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		text, readErr := os.ReadFile(path)
		if readErr != nil {
			slog.Error("Failed to read file", "path", path, "error", readErr)
			return nil
		}
		res, syncErr := r.SyncFile(relTo(root, path), string(text))
		if syncErr != nil {
			slog.Error("Failed to sync file", "path", path, "error", syncErr)
			return nil
		}
		results = append(results, res)
		return nil
	})
	if walkErr != nil {
		return results, fmt.Errorf("walking %s: %w", root, walkErr)
	}
	return results, nil
}

// Orphan is a file-backed deck whose source file is gone. Reporting is
// advisory only; deleting the deck would destroy review history, so that is
// left to an explicit caller decision.
type Orphan struct {
	DeckID     int64  `json:"deck_id"`
	SourcePath string `json:"source_path"`
	CardCount  int    `json:"card_count"`
}

// CheckOrphans reports file decks whose source file no longer exists under
// root. Nothing is deleted.
func (r *Reconciler) CheckOrphans(root string) ([]Orphan, error) {
	decks, err := r.db.ListDecks()
	if err != nil {
		return nil, err
	}
	var orphans []Orphan
	for _, d := range decks {
		if d.SourcePath == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(d.SourcePath))); os.IsNotExist(err) {
			orphans = append(orphans, Orphan{DeckID: d.ID, SourcePath: d.SourcePath, CardCount: d.CardCount})
		}
	}
	return orphans, nil
}

// validateCard applies the content bounds: both sides required, front at
// most 1000 characters, back at most 5000.
func (r *Reconciler) validateCard(pc domain.ParsedCard) []ValidationError {
	err := r.validate.Struct(pc)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{SourceLine: pc.SourceLine, Field: "card", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			SourceLine: pc.SourceLine,
			Field:      strings.ToLower(fe.Field()),
			Message:    fmt.Sprintf("failed %q validation", fe.Tag()),
		})
	}
	return out
}

// ensureDeckForFile walks the file path's segments, creating or reusing a
// collection deck per directory and a file deck for the leaf, maintaining
// the collection-path invariant. It runs inside the caller's transaction so
// decks created for a file that fails to reconcile do not survive.
func (r *Reconciler) ensureDeckForFile(tx *storage.Tx, path string) (*domain.Deck, error) {
	clean := strings.Trim(filepath.ToSlash(path), "/")
	segments := make([]string, 0, 4)
	for _, seg := range strings.Split(clean, "/") {
		if seg != "" && seg != "." {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty source path %q", path)
	}

	var parentID *int64
	parentPath := ""
	for _, seg := range segments[:len(segments)-1] {
		cp := domain.JoinPath(parentPath, seg)
		deck, err := tx.GetDeckByPath(cp)
		if err != nil {
			return nil, err
		}
		if deck == nil {
			deck = &domain.Deck{Name: seg, ParentID: parentID, CollectionPath: cp}
			if err := tx.InsertDeck(deck); err != nil {
				return nil, err
			}
			slog.Info("Created collection deck", "path", cp)
		}
		parentID = &deck.ID
		parentPath = deck.CollectionPath
	}

	leafName := strings.TrimSuffix(segments[len(segments)-1], filepath.Ext(segments[len(segments)-1]))
	cp := domain.JoinPath(parentPath, leafName)
	deck, err := tx.GetDeckByPath(cp)
	if err != nil {
		return nil, err
	}
	if deck == nil {
		deck = &domain.Deck{Name: leafName, ParentID: parentID, CollectionPath: cp, SourcePath: path}
		if err := tx.InsertDeck(deck); err != nil {
			return nil, err
		}
		slog.Info("Created file deck", "path", cp, "source", path)
	}
	return deck, nil
}

func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
