package flashcards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conorfennell/cardcue/internal/domain"
	"github.com/conorfennell/cardcue/internal/fsrs"
	"github.com/conorfennell/cardcue/internal/knol"
	"github.com/conorfennell/cardcue/internal/storage"
)

// Limits on card content and listings.
const (
	MaxBatch       = 50
	MaxFrontLength = 200
	MaxBackLength  = 500
	DefaultLimit   = 20
	MaxLimit       = 100
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("flashcard not found")
	ErrConflict   = errors.New("flashcard changed concurrently")

	// ErrUnauthenticated rejects the nil user id: cards always have an owner.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Repository is the storage the service manages cards in.
type Repository interface {
	InsertFlashcards(ctx context.Context, cards []domain.Flashcard) ([]domain.Flashcard, error)
	ListFlashcards(ctx context.Context, userID uuid.UUID, opts storage.ListOptions) ([]domain.Flashcard, int, error)
	FindCardByID(ctx context.Context, cardID int64, userID uuid.UUID) (*domain.Flashcard, error)
	UpdateFlashcardContent(ctx context.Context, card domain.Flashcard) (domain.Flashcard, error)
	DeleteFlashcard(ctx context.Context, cardID int64, userID uuid.UUID) error
	ListReviewLogs(ctx context.Context, cardID int64, userID uuid.UUID) ([]domain.ReviewLog, error)
	ContentHashes(ctx context.Context, userID uuid.UUID) (map[string]struct{}, error)
}

// CreateInput is one card to create.
type CreateInput struct {
	Front        string        `json:"front" validate:"required,max=200"`
	Back         string        `json:"back" validate:"required,max=500"`
	Source       domain.Source `json:"source" validate:"required,oneof=ai-full ai-edited manual"`
	GenerationID *int64        `json:"generation_id" validate:"required_unless=Source manual,excluded_if=Source manual"`
}

type createBatch struct {
	Cards []CreateInput `validate:"required,min=1,max=50,dive"`
}

// UpdateInput changes a card's content. At least one side must be set.
type UpdateInput struct {
	Front *string `json:"front"`
	Back  *string `json:"back"`
}

// ListQuery selects a page of cards. Zero values take the defaults: page 1,
// 20 per page, newest first.
type ListQuery struct {
	Page         int           `validate:"gte=1"`
	Limit        int           `validate:"gte=1,lte=100"`
	Sort         string        `validate:"oneof=created_at updated_at front source due"`
	Order        string        `validate:"oneof=asc desc"`
	Source       domain.Source `validate:"omitempty,oneof=ai-full ai-edited manual"`
	GenerationID *int64
}

// Page is one page of a listing.
type Page struct {
	Data       []domain.Flashcard `json:"data"`
	Pagination Pagination         `json:"pagination"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// CardCounter is told how many cards were created.
type CardCounter interface {
	AddCardsCreated(n int)
}

// Service manages a user's flashcards.
type Service struct {
	repo     Repository
	validate *validator.Validate
	logger   *zap.Logger
	counter  CardCounter
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCounter reports created cards to c.
func WithCounter(c CardCounter) Option {
	return func(s *Service) { s.counter = c }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service storing cards in repo.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates every input and stores them as new cards. Either all
// cards are created or none.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, inputs []CreateInput) ([]domain.Flashcard, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	batch := createBatch{Cards: make([]CreateInput, len(inputs))}
	for i, in := range inputs {
		in.Front = strings.TrimSpace(in.Front)
		in.Back = strings.TrimSpace(in.Back)
		batch.Cards[i] = in
	}
	if err := s.validate.Struct(batch); err != nil {
		return nil, validationError(err)
	}

	now := s.now().UTC()
	cards := make([]domain.Flashcard, 0, len(batch.Cards))
	for _, in := range batch.Cards {
		draft := domain.Draft{Front: in.Front, Back: in.Back}
		cards = append(cards, domain.Flashcard{
			UserID:       userID,
			Front:        in.Front,
			Back:         in.Back,
			Source:       in.Source,
			GenerationID: in.GenerationID,
			ContentHash:  knol.Hash(draft),
			Card:         fsrs.NewCard(now),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	created, err := s.repo.InsertFlashcards(ctx, cards)
	if err != nil {
		s.logger.Error("failed to create flashcards", zap.Int("count", len(cards)), zap.Error(err))
		return nil, err
	}
	if s.counter != nil {
		s.counter.AddCardsCreated(len(created))
	}
	s.logger.Info("flashcards created", zap.Stringer("user_id", userID), zap.Int("count", len(created)))
	return created, nil
}

// List returns one page of the user's cards.
func (s *Service) List(ctx context.Context, userID uuid.UUID, q ListQuery) (Page, error) {
	if userID == uuid.Nil {
		return Page{}, ErrUnauthenticated
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Sort == "" {
		q.Sort = "created_at"
	}
	if q.Order == "" {
		q.Order = "desc"
	}
	if err := s.validate.Struct(q); err != nil {
		return Page{}, validationError(err)
	}

	cards, total, err := s.repo.ListFlashcards(ctx, userID, storage.ListOptions{
		Offset:       (q.Page - 1) * q.Limit,
		Limit:        q.Limit,
		SortBy:       q.Sort,
		Descending:   q.Order == "desc",
		Source:       q.Source,
		GenerationID: q.GenerationID,
	})
	if err != nil {
		return Page{}, err
	}
	return Page{
		Data:       cards,
		Pagination: Pagination{Page: q.Page, Limit: q.Limit, Total: total},
	}, nil
}

// Get returns one of the user's cards.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, id int64) (domain.Flashcard, error) {
	if userID == uuid.Nil {
		return domain.Flashcard{}, ErrUnauthenticated
	}
	card, err := s.repo.FindCardByID(ctx, id, userID)
	if err != nil {
		return domain.Flashcard{}, notFound(err, id)
	}
	return *card, nil
}

// Update replaces the front and/or back of a card. Editing an unedited AI
// card marks it as ai-edited.
func (s *Service) Update(ctx context.Context, userID uuid.UUID, id int64, in UpdateInput) (domain.Flashcard, error) {
	if userID == uuid.Nil {
		return domain.Flashcard{}, ErrUnauthenticated
	}
	if in.Front == nil && in.Back == nil {
		return domain.Flashcard{}, &ValidationError{
			Fields: []string{"front or back is required"},
			err:    errors.New("empty update"),
		}
	}
	if in.Front != nil {
		front := strings.TrimSpace(*in.Front)
		if err := s.validate.Var(front, "required,max=200"); err != nil {
			return domain.Flashcard{}, fieldError("front", err)
		}
		in.Front = &front
	}
	if in.Back != nil {
		back := strings.TrimSpace(*in.Back)
		if err := s.validate.Var(back, "required,max=500"); err != nil {
			return domain.Flashcard{}, fieldError("back", err)
		}
		in.Back = &back
	}

	card, err := s.Get(ctx, userID, id)
	if err != nil {
		return domain.Flashcard{}, err
	}
	if in.Front != nil {
		card.Front = *in.Front
	}
	if in.Back != nil {
		card.Back = *in.Back
	}
	if card.Source == domain.SourceAIFull {
		card.Source = domain.SourceAIEdited
	}
	card.ContentHash = knol.Hash(domain.Draft{Front: card.Front, Back: card.Back})
	card.UpdatedAt = s.now().UTC()

	updated, err := s.repo.UpdateFlashcardContent(ctx, card)
	if errors.Is(err, storage.ErrStaleState) {
		return domain.Flashcard{}, fmt.Errorf("%w: %d", ErrConflict, id)
	}
	if err != nil {
		return domain.Flashcard{}, notFound(err, id)
	}
	return updated, nil
}

// Delete removes a card and its review history.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID, id int64) error {
	if userID == uuid.Nil {
		return ErrUnauthenticated
	}
	if err := s.repo.DeleteFlashcard(ctx, id, userID); err != nil {
		return notFound(err, id)
	}
	s.logger.Info("flashcard deleted", zap.Stringer("user_id", userID), zap.Int64("flashcard_id", id))
	return nil
}

// Reviews returns the review history of one of the user's cards.
func (s *Service) Reviews(ctx context.Context, userID uuid.UUID, id int64) ([]domain.ReviewLog, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.repo.ListReviewLogs(ctx, id, userID)
}

// ValidateContent checks front and back against the rules Create applies to
// a manual card.
func (s *Service) ValidateContent(front, back string) error {
	in := CreateInput{
		Front:  strings.TrimSpace(front),
		Back:   strings.TrimSpace(back),
		Source: domain.SourceManual,
	}
	if err := s.validate.Struct(in); err != nil {
		return validationError(err)
	}
	return nil
}

// ContentHashes returns the content hashes of every card the user owns.
func (s *Service) ContentHashes(ctx context.Context, userID uuid.UUID) (map[string]struct{}, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	return s.repo.ContentHashes(ctx, userID)
}

func notFound(err error, id int64) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return err
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
	err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.err}
}

func fieldError(name string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ValidationError{Fields: []string{name + " failed " + verrs[0].Tag()}, err: err}
	}
	return fmt.Errorf("%w: %s: %w", ErrValidation, name, err)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", strings.TrimPrefix(fe.Namespace(), "createBatch."), fe.Tag()))
	}
	return &ValidationError{Fields: fields, err: err}
}
