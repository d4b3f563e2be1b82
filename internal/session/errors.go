package session

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRating   = errors.New("invalid rating")
	ErrNotFound        = errors.New("flashcard not found")
	ErrPersistence     = errors.New("persistence failure")
	ErrInvalidState    = errors.New("invalid card state")
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrConflict reports that the card was rated concurrently. It is also a
	// persistence failure: the whole call may be retried.
	ErrConflict = fmt.Errorf("card changed concurrently: %w", ErrPersistence)
)
