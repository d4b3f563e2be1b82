package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/cardcue/internal/domain"
	"github.com/conorfennell/cardcue/internal/fsrs"
)

type reviewLogRow struct {
	ID            string    `db:"id"`
	FlashcardID   int64     `db:"flashcard_id"`
	UserID        string    `db:"user_id"`
	Rating        int       `db:"rating"`
	StateBefore   int       `db:"state_before"`
	StateAfter    int       `db:"state_after"`
	ElapsedDays   int       `db:"elapsed_days"`
	ScheduledDays int       `db:"scheduled_days"`
	ReviewedAt    time.Time `db:"reviewed_at"`
}

// AtomicUpdateCardAndAppendLog stores the new memory state of card and appends
// log in one transaction. The update only applies while the stored card is at
// expectedVersion; otherwise ErrStaleState is returned and nothing is written.
func (db *DB) AtomicUpdateCardAndAppendLog(ctx context.Context, card domain.Flashcard, expectedVersion int64, log domain.ReviewLog) (domain.Flashcard, error) {
	card = normalize(card)
	log.ReviewedAt = utc(log.ReviewedAt)

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Flashcard{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, db.conn.Rebind(`UPDATE flashcards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
			reps = ?, lapses = ?, state = ?, last_review = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND version = ?`),
		card.Due, card.Stability, card.Difficulty, card.ElapsedDays, card.ScheduledDays,
		card.Reps, card.Lapses, int(card.State), nullTime(card.LastReview),
		card.UpdatedAt,
		card.ID, card.UserID.String(), expectedVersion)
	if err != nil {
		return domain.Flashcard{}, fmt.Errorf("failed to update flashcard %d: %w", card.ID, err)
	}
	if err := db.checkUpdated(ctx, tx, res, card.ID, card.UserID); err != nil {
		return domain.Flashcard{}, err
	}

	_, err = tx.ExecContext(ctx, db.conn.Rebind(`INSERT INTO review_logs
		(id, flashcard_id, user_id, rating, state_before, state_after, elapsed_days, scheduled_days, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		log.ID.String(), log.FlashcardID, log.UserID.String(), int(log.Rating),
		int(log.StateBefore), int(log.StateAfter), log.ElapsedDays, log.ScheduledDays, log.ReviewedAt)
	if err != nil {
		return domain.Flashcard{}, fmt.Errorf("failed to append review log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Flashcard{}, fmt.Errorf("failed to commit review: %w", err)
	}

	card.Version = expectedVersion + 1
	return card, nil
}

// ListReviewLogs returns the review history of the user's card, oldest first.
func (db *DB) ListReviewLogs(ctx context.Context, cardID int64, userID uuid.UUID) ([]domain.ReviewLog, error) {
	var rows []reviewLogRow
	query := db.conn.Rebind(`SELECT id, flashcard_id, user_id, rating, state_before, state_after,
		elapsed_days, scheduled_days, reviewed_at
		FROM review_logs WHERE flashcard_id = ? AND user_id = ?
		ORDER BY reviewed_at ASC, id ASC`)
	if err := db.conn.SelectContext(ctx, &rows, query, cardID, userID.String()); err != nil {
		return nil, fmt.Errorf("failed to query review logs: %w", err)
	}

	logs := make([]domain.ReviewLog, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("review log has malformed id %q: %w", r.ID, err)
		}
		uid, err := uuid.Parse(r.UserID)
		if err != nil {
			return nil, fmt.Errorf("review log %s has malformed user id: %w", r.ID, err)
		}
		logs = append(logs, domain.ReviewLog{
			ID:            id,
			FlashcardID:   r.FlashcardID,
			UserID:        uid,
			Rating:        fsrs.Rating(r.Rating),
			StateBefore:   fsrs.State(r.StateBefore),
			StateAfter:    fsrs.State(r.StateAfter),
			ElapsedDays:   r.ElapsedDays,
			ScheduledDays: r.ScheduledDays,
			ReviewedAt:    r.ReviewedAt.UTC(),
		})
	}
	return logs, nil
}

// checkUpdated tells a version mismatch apart from a missing card when a
// conditional update touched no rows.
func (db *DB) checkUpdated(ctx context.Context, q sqlx.QueryerContext, res sql.Result, cardID int64, userID uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = sqlx.GetContext(ctx, q, &exists, db.conn.Rebind(`SELECT 1 FROM flashcards WHERE id = ? AND user_id = ?`),
		cardID, userID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check flashcard %d: %w", cardID, err)
	}
	return ErrStaleState
}
