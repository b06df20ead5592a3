// Package storage persists decks, flashcards, scheduling state, and review
// history in SQLite. It is the only I/O boundary of the engine; every other
// package is pure or goes through this one.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mdstudy/mdstudy/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB wraps the SQL database connection.
type DB struct {
	conn *sql.DB
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so mutation helpers can run
// inside or outside a transaction.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Tx exposes the store's mutators inside a single transaction.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. The transaction is rolled back if fn
// returns an error, so a partial reconciliation never reaches the store.
func (db *DB) WithTx(fn func(*Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w failed: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const deckColumns = `id, name, description, source_path, parent_id, collection_path, tags, color, icon, created_at, updated_at`

func scanDeck(row interface{ Scan(...any) error }) (domain.Deck, error) {
	var d domain.Deck
	var sourcePath sql.NullString
	var parentID sql.NullInt64
	err := row.Scan(&d.ID, &d.Name, &d.Description, &sourcePath, &parentID,
		&d.CollectionPath, &d.Tags, &d.Color, &d.Icon, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.Deck{}, err
	}
	d.SourcePath = sourcePath.String
	if parentID.Valid {
		v := parentID.Int64
		d.ParentID = &v
	}
	return d, nil
}

func insertDeck(q dbtx, d *domain.Deck) error {
	now := time.Now()
	res, err := q.Exec(`
		INSERT INTO decks (name, description, source_path, parent_id, collection_path, tags, color, icon, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.Name, d.Description, nullString(d.SourcePath), nullInt64Ptr(d.ParentID),
		d.CollectionPath, d.Tags, d.Color, d.Icon, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deck %s: %w", d.CollectionPath, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get deck id for %s: %w", d.CollectionPath, err)
	}
	d.ID = id
	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

// InsertDeck inserts a deck and returns its id. The caller is responsible
// for the collection_path invariant.
func (db *DB) InsertDeck(d *domain.Deck) error { return insertDeck(db.conn, d) }

// InsertDeck inserts a deck inside the transaction.
func (tx *Tx) InsertDeck(d *domain.Deck) error { return insertDeck(tx.tx, d) }

// GetDeck retrieves a deck by id. Returns domain.ErrNotFound if absent.
func (db *DB) GetDeck(id int64) (*domain.Deck, error) {
	row := db.conn.QueryRow(`SELECT `+deckColumns+` FROM decks WHERE id = ?`, id)
	d, err := scanDeck(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("deck %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get deck %d: %w", id, err)
	}
	return &d, nil
}

func getDeckByPath(q dbtx, collectionPath string) (*domain.Deck, error) {
	row := q.QueryRow(`SELECT `+deckColumns+` FROM decks WHERE collection_path = ?`, collectionPath)
	d, err := scanDeck(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deck by path %s: %w", collectionPath, err)
	}
	return &d, nil
}

// GetDeckByPath retrieves a deck by its collection path, or nil if absent.
func (db *DB) GetDeckByPath(collectionPath string) (*domain.Deck, error) {
	return getDeckByPath(db.conn, collectionPath)
}

// GetDeckByPath retrieves a deck by its collection path inside the
// transaction, or nil if absent.
func (tx *Tx) GetDeckByPath(collectionPath string) (*domain.Deck, error) {
	return getDeckByPath(tx.tx, collectionPath)
}

// ListDecks returns all decks with their card counts.
func (db *DB) ListDecks() ([]domain.Deck, error) {
	rows, err := db.conn.Query(`
		SELECT ` + deckColumns + `, (SELECT COUNT(*) FROM flashcards f WHERE f.deck_id = decks.id)
		FROM decks ORDER BY collection_path
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", err)
	}
	defer rows.Close()

	var decks []domain.Deck
	for rows.Next() {
		var d domain.Deck
		var sourcePath sql.NullString
		var parentID sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &sourcePath, &parentID,
			&d.CollectionPath, &d.Tags, &d.Color, &d.Icon, &d.CreatedAt, &d.UpdatedAt, &d.CardCount); err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		d.SourcePath = sourcePath.String
		if parentID.Valid {
			v := parentID.Int64
			d.ParentID = &v
		}
		decks = append(decks, d)
	}
	return decks, rows.Err()
}

// SubtreeDeckIDs returns the ids of a deck and all of its descendants,
// resolved through the materialized collection path.
func (db *DB) SubtreeDeckIDs(id int64) ([]int64, error) {
	deck, err := db.GetDeck(id)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(`
		SELECT id FROM decks WHERE collection_path = ? OR collection_path LIKE ?
	`, deck.CollectionPath, deck.CollectionPath+domain.PathSeparator+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query deck subtree %d: %w", id, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan deck id: %w", err)
		}
		ids = append(ids, v)
	}
	return ids, rows.Err()
}

// DeleteDeck removes a deck. Child decks, cards, states, and reviews cascade.
func (db *DB) DeleteDeck(id int64) error {
	if _, err := db.conn.Exec(`DELETE FROM decks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete deck %d: %w", id, err)
	}
	return nil
}

// DeckStats summarizes a deck subtree for display.
type DeckStats struct {
	Total   int `json:"total"`
	New     int `json:"new"`
	Due     int `json:"due"`
	Learned int `json:"learned"`
}

// GetDeckStats counts cards in the given decks by study status.
func (db *DB) GetDeckStats(deckIDs []int64, now time.Time) (DeckStats, error) {
	var stats DeckStats
	if len(deckIDs) == 0 {
		return stats, nil
	}
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN s.state = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN s.due <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN s.state = 2 THEN 1 ELSE 0 END), 0)
		FROM flashcards f
		JOIN card_states s ON s.card_id = f.id
		WHERE f.deck_id IN (` + placeholders(len(deckIDs)) + `)`
	args := make([]any, 0, len(deckIDs)+1)
	args = append(args, now)
	for _, id := range deckIDs {
		args = append(args, id)
	}
	row := db.conn.QueryRow(query, args...)
	if err := row.Scan(&stats.Total, &stats.New, &stats.Due, &stats.Learned); err != nil {
		return stats, fmt.Errorf("failed to get deck stats: %w", err)
	}
	return stats, nil
}

// Source is a registered card origin, either a local directory or a git URL.
type Source struct {
	ID          int64        `json:"id"`
	Path        string       `json:"path"`
	Kind        string       `json:"kind"` // "local" or "git"
	LastScanned sql.NullTime `json:"last_scanned"`
}

// InsertSource registers a new source and returns its id.
func (db *DB) InsertSource(path, kind string) (int64, error) {
	res, err := db.conn.Exec(`INSERT INTO sources (path, kind) VALUES (?, ?)`, path, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get source id for %s: %w", path, err)
	}
	return id, nil
}

// GetAllSources retrieves every registered source.
func (db *DB) GetAllSources() ([]Source, error) {
	rows, err := db.conn.Query(`SELECT id, path, kind, last_scanned FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.Path, &s.Kind, &s.LastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// DeleteSource removes a source registration. Decks synced from it remain.
func (db *DB) DeleteSource(id int64) error {
	if _, err := db.conn.Exec(`DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete source %d: %w", id, err)
	}
	return nil
}

// UpdateSourceLastScanned stamps a source after a completed sync.
func (db *DB) UpdateSourceLastScanned(id int64) error {
	if _, err := db.conn.Exec(`UPDATE sources SET last_scanned = ? WHERE id = ?`, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update last scanned for source %d: %w", id, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}
