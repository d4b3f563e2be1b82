package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/cardcue/internal/domain"
	"github.com/conorfennell/cardcue/internal/fsrs"
)

const flashcardColumns = `id, user_id, front, back, source, generation_id, content_hash,
	due, stability, difficulty, elapsed_days, scheduled_days, reps, lapses, state, last_review,
	version, created_at, updated_at`

// flashcardRow mirrors a row of the flashcards table.
type flashcardRow struct {
	ID            int64         `db:"id"`
	UserID        string        `db:"user_id"`
	Front         string        `db:"front"`
	Back          string        `db:"back"`
	Source        string        `db:"source"`
	GenerationID  sql.NullInt64 `db:"generation_id"`
	ContentHash   string        `db:"content_hash"`
	Due           time.Time     `db:"due"`
	Stability     float64       `db:"stability"`
	Difficulty    float64       `db:"difficulty"`
	ElapsedDays   int           `db:"elapsed_days"`
	ScheduledDays int           `db:"scheduled_days"`
	Reps          int           `db:"reps"`
	Lapses        int           `db:"lapses"`
	State         int           `db:"state"`
	LastReview    sql.NullTime  `db:"last_review"`
	Version       int64         `db:"version"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}

func (r flashcardRow) toDomain() (domain.Flashcard, error) {
	userID, err := uuid.Parse(r.UserID)
	if err != nil {
		return domain.Flashcard{}, fmt.Errorf("flashcard %d has malformed user id: %w", r.ID, err)
	}
	f := domain.Flashcard{
		ID:          r.ID,
		UserID:      userID,
		Front:       r.Front,
		Back:        r.Back,
		Source:      domain.Source(r.Source),
		ContentHash: r.ContentHash,
		Card: fsrs.Card{
			Due:           r.Due.UTC(),
			Stability:     r.Stability,
			Difficulty:    r.Difficulty,
			ElapsedDays:   r.ElapsedDays,
			ScheduledDays: r.ScheduledDays,
			Reps:          r.Reps,
			Lapses:        r.Lapses,
			State:         fsrs.State(r.State),
		},
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.GenerationID.Valid {
		id := r.GenerationID.Int64
		f.GenerationID = &id
	}
	if r.LastReview.Valid {
		lr := r.LastReview.Time.UTC()
		f.LastReview = &lr
	}
	return f, nil
}

func rowsToDomain(rows []flashcardRow) ([]domain.Flashcard, error) {
	cards := make([]domain.Flashcard, 0, len(rows))
	for _, r := range rows {
		f, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		cards = append(cards, f)
	}
	return cards, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: utc(*t), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// normalize converts every timestamp of f to the form it will be stored in.
func normalize(f domain.Flashcard) domain.Flashcard {
	f.Due = utc(f.Due)
	if f.LastReview != nil {
		lr := utc(*f.LastReview)
		f.LastReview = &lr
	}
	f.CreatedAt = utc(f.CreatedAt)
	f.UpdatedAt = utc(f.UpdatedAt)
	return f
}

// InsertFlashcards stores cards in a single transaction and returns them with
// their assigned ids. Every card starts at version 1.
func (db *DB) InsertFlashcards(ctx context.Context, cards []domain.Flashcard) ([]domain.Flashcard, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := db.conn.Rebind(`INSERT INTO flashcards (user_id, front, back, source, generation_id, content_hash,
		due, stability, difficulty, elapsed_days, scheduled_days, reps, lapses, state, last_review,
		version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		RETURNING id`)

	out := make([]domain.Flashcard, 0, len(cards))
	for _, c := range cards {
		c = normalize(c)
		err := tx.QueryRowxContext(ctx, query,
			c.UserID.String(), c.Front, c.Back, string(c.Source), nullInt64(c.GenerationID), c.ContentHash,
			c.Due, c.Stability, c.Difficulty, c.ElapsedDays, c.ScheduledDays, c.Reps, c.Lapses, int(c.State),
			nullTime(c.LastReview), c.CreatedAt, c.UpdatedAt,
		).Scan(&c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert flashcard: %w", err)
		}
		c.Version = 1
		out = append(out, c)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit flashcards: %w", err)
	}
	return out, nil
}

// FindDueCards returns the user's cards due at or before now, oldest due
// first. Cards with the same due time are ordered by id.
func (db *DB) FindDueCards(ctx context.Context, userID uuid.UUID, now time.Time) ([]domain.Flashcard, error) {
	var rows []flashcardRow
	query := db.conn.Rebind(`SELECT ` + flashcardColumns + ` FROM flashcards
		WHERE user_id = ? AND due <= ?
		ORDER BY due ASC, id ASC`)
	if err := db.conn.SelectContext(ctx, &rows, query, userID.String(), utc(now)); err != nil {
		return nil, fmt.Errorf("failed to query due flashcards: %w", err)
	}
	return rowsToDomain(rows)
}

// FindCardByID returns the card with the given id if it belongs to userID.
func (db *DB) FindCardByID(ctx context.Context, cardID int64, userID uuid.UUID) (*domain.Flashcard, error) {
	var row flashcardRow
	query := db.conn.Rebind(`SELECT ` + flashcardColumns + ` FROM flashcards WHERE id = ? AND user_id = ?`)
	if err := db.conn.GetContext(ctx, &row, query, cardID, userID.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query flashcard %d: %w", cardID, err)
	}
	f, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListOptions selects a page of a user's flashcards.
type ListOptions struct {
	Offset     int
	Limit      int
	SortBy     string
	Descending bool
	Source     domain.Source
	// GenerationID restricts the page to cards from one AI generation.
	GenerationID *int64
}

var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"front":      "front",
	"source":     "source",
	"due":        "due",
}

// SortColumns lists the accepted ListOptions.SortBy values.
func SortColumns() []string {
	return []string{"created_at", "updated_at", "front", "source", "due"}
}

// ListFlashcards returns one page of the user's flashcards and the total
// number of cards matching the filter.
func (db *DB) ListFlashcards(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]domain.Flashcard, int, error) {
	column, ok := sortColumns[opts.SortBy]
	if !ok {
		column = "created_at"
	}
	dir := "ASC"
	if opts.Descending {
		dir = "DESC"
	}

	where := []string{"user_id = ?"}
	args := []any{userID.String()}
	if opts.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(opts.Source))
	}
	if opts.GenerationID != nil {
		where = append(where, "generation_id = ?")
		args = append(args, *opts.GenerationID)
	}
	filter := strings.Join(where, " AND ")

	var total int
	countQuery := db.conn.Rebind(`SELECT COUNT(*) FROM flashcards WHERE ` + filter)
	if err := db.conn.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count flashcards: %w", err)
	}

	var rows []flashcardRow
	query := db.conn.Rebind(fmt.Sprintf(`SELECT %s FROM flashcards WHERE %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?`,
		flashcardColumns, filter, column, dir, dir))
	if err := db.conn.SelectContext(ctx, &rows, query, append(args, opts.Limit, opts.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list flashcards: %w", err)
	}
	cards, err := rowsToDomain(rows)
	if err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

// UpdateFlashcardContent writes new front, back, content hash and source for
// card, provided it is still at card.Version. The stored card is returned.
func (db *DB) UpdateFlashcardContent(ctx context.Context, card domain.Flashcard) (domain.Flashcard, error) {
	card = normalize(card)
	query := db.conn.Rebind(`UPDATE flashcards
		SET front = ?, back = ?, content_hash = ?, source = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND version = ?`)
	res, err := db.conn.ExecContext(ctx, query,
		card.Front, card.Back, card.ContentHash, string(card.Source), card.UpdatedAt,
		card.ID, card.UserID.String(), card.Version)
	if err != nil {
		return domain.Flashcard{}, fmt.Errorf("failed to update flashcard %d: %w", card.ID, err)
	}
	if err := db.checkUpdated(ctx, db.conn, res, card.ID, card.UserID); err != nil {
		return domain.Flashcard{}, err
	}
	card.Version++
	return card, nil
}

// DeleteFlashcard removes the user's card together with its review logs.
func (db *DB) DeleteFlashcard(ctx context.Context, cardID int64, userID uuid.UUID) error {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`DELETE FROM flashcards WHERE id = ? AND user_id = ?`),
		cardID, userID.String())
	if err != nil {
		return fmt.Errorf("failed to delete flashcard %d: %w", cardID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete flashcard %d: %w", cardID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ContentHashes returns the content hashes of every card the user owns.
func (db *DB) ContentHashes(ctx context.Context, userID uuid.UUID) (map[string]struct{}, error) {
	var hashes []string
	query := db.conn.Rebind(`SELECT content_hash FROM flashcards WHERE user_id = ?`)
	if err := db.conn.SelectContext(ctx, &hashes, query, userID.String()); err != nil {
		return nil, fmt.Errorf("failed to query content hashes: %w", err)
	}
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set, nil
}
