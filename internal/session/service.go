package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/conorfennell/cardcue/internal/domain"
	"github.com/conorfennell/cardcue/internal/fsrs"
	"github.com/conorfennell/cardcue/internal/storage"
)

// DefaultOperationTimeout bounds each storage call unless WithOperationTimeout
// says otherwise.
const DefaultOperationTimeout = 5 * time.Second

// Repository is the persistence the review session needs.
type Repository interface {
	FindDueCards(ctx context.Context, userID uuid.UUID, now time.Time) ([]domain.Flashcard, error)
	FindCardByID(ctx context.Context, cardID int64, userID uuid.UUID) (*domain.Flashcard, error)
	AtomicUpdateCardAndAppendLog(ctx context.Context, card domain.Flashcard, expectedVersion int64, log domain.ReviewLog) (domain.Flashcard, error)
}

// Metrics receives session events.
type Metrics interface {
	ObserveRating(rating fsrs.Rating, state fsrs.State, d time.Duration)
	IncConflict()
	ObserveDueCards(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRating(fsrs.Rating, fsrs.State, time.Duration) {}
func (nopMetrics) IncConflict()                                         {}
func (nopMetrics) ObserveDueCards(int)                                  {}

// Service runs review sessions: it lists due cards and applies ratings.
type Service struct {
	repo      Repository
	scheduler *fsrs.Scheduler
	breaker   *gobreaker.CircuitBreaker
	metrics   Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	timeout   time.Duration
	now       func() time.Time
	newID     func() uuid.UUID
	tripAfter uint32
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics reports ratings, conflicts and due counts to m.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithOperationTimeout bounds every repository call.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides how review log ids are made.
func WithIDGenerator(f func() uuid.UUID) Option {
	return func(s *Service) { s.newID = f }
}

// WithBreakerThreshold sets how many consecutive write failures open the
// circuit breaker.
func WithBreakerThreshold(n uint32) Option {
	return func(s *Service) {
		if n > 0 {
			s.tripAfter = n
		}
	}
}

// NewService returns a Service reading and writing cards through repo and
// scheduling them with scheduler.
func NewService(repo Repository, scheduler *fsrs.Scheduler, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		scheduler: scheduler,
		metrics:   nopMetrics{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/conorfennell/cardcue/internal/session"),
		timeout:   DefaultOperationTimeout,
		now:       time.Now,
		newID:     uuid.New,
		tripAfter: 5,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "session-writes",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
		// Conflicts and vanished cards are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, storage.ErrStaleState) || errors.Is(err, storage.ErrNotFound)
		},
	})
	return s
}

// GetDueCards returns the user's cards that are due now, oldest due first.
func (s *Service) GetDueCards(ctx context.Context, userID uuid.UUID) ([]domain.Flashcard, error) {
	ctx, span := s.tracer.Start(ctx, "session.GetDueCards")
	defer span.End()

	if userID == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cards, err := s.repo.FindDueCards(opCtx, userID, s.now())
	if err != nil {
		s.logger.Error("failed to load due cards", zap.Stringer("user_id", userID), zap.Error(err))
		return nil, fail(span, fmt.Errorf("%w: loading due cards: %w", ErrPersistence, err))
	}
	if cards == nil {
		cards = []domain.Flashcard{}
	}

	span.SetAttributes(attribute.Int("cards.due", len(cards)))
	s.metrics.ObserveDueCards(len(cards))
	return cards, nil
}

// RateCard applies rating to the user's card and persists the new state
// together with a review log. A concurrent rating of the same card makes one
// of the calls fail with ErrConflict.
func (s *Service) RateCard(ctx context.Context, userID uuid.UUID, cardID int64, rating fsrs.Rating) (domain.Flashcard, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "session.RateCard", trace.WithAttributes(
		attribute.Int64("flashcard.id", cardID),
		attribute.String("rating", rating.String()),
	))
	defer span.End()

	if userID == uuid.Nil {
		return domain.Flashcard{}, ErrUnauthenticated
	}
	if !rating.IsValid() {
		return domain.Flashcard{}, fmt.Errorf("%w: %d", ErrInvalidRating, int(rating))
	}

	card, err := s.load(ctx, userID, cardID)
	if err != nil {
		return domain.Flashcard{}, fail(span, err)
	}

	now := s.now()
	next, err := s.scheduler.Next(card.Card, rating, now)
	if err != nil {
		s.logger.Error("failed to schedule card",
			zap.Int64("flashcard_id", cardID),
			zap.Stringer("state", card.State),
			zap.Error(err))
		return domain.Flashcard{}, fail(span, schedulingError(err))
	}

	updated := *card
	updated.Card = next
	updated.UpdatedAt = now
	log := domain.ReviewLog{
		ID:            s.newID(),
		FlashcardID:   card.ID,
		UserID:        userID,
		Rating:        rating,
		StateBefore:   card.State,
		StateAfter:    next.State,
		ElapsedDays:   next.ElapsedDays,
		ScheduledDays: next.ScheduledDays,
		ReviewedAt:    now,
	}

	saved, err := s.persist(ctx, updated, card.Version, log)
	if err != nil {
		return domain.Flashcard{}, fail(span, err)
	}

	s.metrics.ObserveRating(rating, saved.State, time.Since(start))
	s.logger.Debug("card rated",
		zap.Int64("flashcard_id", saved.ID),
		zap.Stringer("rating", rating),
		zap.Stringer("from", log.StateBefore),
		zap.Stringer("to", log.StateAfter),
		zap.Time("due", saved.Due))
	return saved, nil
}

// PreviewCard returns the state the card would move to for every rating.
func (s *Service) PreviewCard(ctx context.Context, userID uuid.UUID, cardID int64) (map[fsrs.Rating]fsrs.Card, error) {
	ctx, span := s.tracer.Start(ctx, "session.PreviewCard", trace.WithAttributes(
		attribute.Int64("flashcard.id", cardID),
	))
	defer span.End()

	if userID == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	card, err := s.load(ctx, userID, cardID)
	if err != nil {
		return nil, fail(span, err)
	}

	preview, err := s.scheduler.Preview(card.Card, s.now())
	if err != nil {
		return nil, fail(span, schedulingError(err))
	}
	return preview, nil
}

func (s *Service) load(ctx context.Context, userID uuid.UUID, cardID int64) (*domain.Flashcard, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	card, err := s.repo.FindCardByID(opCtx, cardID, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("%w: %d", ErrNotFound, cardID)
	case err != nil:
		s.logger.Error("failed to load card", zap.Int64("flashcard_id", cardID), zap.Error(err))
		return nil, fmt.Errorf("%w: loading card %d: %w", ErrPersistence, cardID, err)
	case card == nil:
		return nil, fmt.Errorf("%w: %d", ErrNotFound, cardID)
	}
	return card, nil
}

func (s *Service) persist(ctx context.Context, card domain.Flashcard, version int64, log domain.ReviewLog) (domain.Flashcard, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.repo.AtomicUpdateCardAndAppendLog(opCtx, card, version, log)
	})
	switch {
	case err == nil:
		return res.(domain.Flashcard), nil
	case errors.Is(err, storage.ErrStaleState):
		s.metrics.IncConflict()
		s.logger.Info("rating lost a concurrent update",
			zap.Int64("flashcard_id", card.ID),
			zap.Int64("version", version))
		return domain.Flashcard{}, fmt.Errorf("%w: flashcard %d", ErrConflict, card.ID)
	case errors.Is(err, storage.ErrNotFound):
		return domain.Flashcard{}, fmt.Errorf("%w: %d", ErrNotFound, card.ID)
	default:
		s.logger.Error("failed to persist rating", zap.Int64("flashcard_id", card.ID), zap.Error(err))
		return domain.Flashcard{}, fmt.Errorf("%w: saving rating: %w", ErrPersistence, err)
	}
}

func schedulingError(err error) error {
	if errors.Is(err, fsrs.ErrInvalidRating) {
		return fmt.Errorf("%w: %w", ErrInvalidRating, err)
	}
	return fmt.Errorf("%w: %w", ErrInvalidState, err)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
