package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/cardcue/internal/fsrs"
)

// Source records where a flashcard's content came from.
type Source string

const (
	SourceAIFull   Source = "ai-full"
	SourceAIEdited Source = "ai-edited"
	SourceManual   Source = "manual"
)

// IsValid reports whether s is a known source.
func (s Source) IsValid() bool {
	switch s {
	case SourceAIFull, SourceAIEdited, SourceManual:
		return true
	}
	return false
}

// RequiresGeneration reports whether cards from s must reference the AI
// generation they came from.
func (s Source) RequiresGeneration() bool {
	return s == SourceAIFull || s == SourceAIEdited
}

// Flashcard is a user's card together with its scheduling state.
// Version increases on every write and guards concurrent reviews.
type Flashcard struct {
	ID           int64     `json:"id"`
	UserID       uuid.UUID `json:"-"`
	Front        string    `json:"front"`
	Back         string    `json:"back"`
	Source       Source    `json:"source"`
	GenerationID *int64    `json:"generation_id"`
	ContentHash  string    `json:"-"`
	fsrs.Card
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (f Flashcard) String() string {
	return fmt.Sprintf("flashcard %d (%s, due %s)", f.ID, f.State, f.Due.Format(time.RFC3339))
}

// ReviewLog records a single rating of a flashcard. Entries are append-only.
type ReviewLog struct {
	ID            uuid.UUID   `json:"id"`
	FlashcardID   int64       `json:"flashcard_id"`
	UserID        uuid.UUID   `json:"-"`
	Rating        fsrs.Rating `json:"rating"`
	StateBefore   fsrs.State  `json:"state_before"`
	StateAfter    fsrs.State  `json:"state_after"`
	ElapsedDays   int         `json:"elapsed_days"`
	ScheduledDays int         `json:"scheduled_days"`
	ReviewedAt    time.Time   `json:"reviewed_at"`
}

// Draft is flashcard content that has not been stored yet.
type Draft struct {
	Front string
	Back  string
}
