package fsrs

import (
	"fmt"
	"math"
	"time"
)

// minStability keeps computed stabilities strictly positive so that the
// forgetting curve stays defined.
const minStability = 0.001

// Scheduler computes the next memory state of a card after a rating.
// It holds no mutable state and is safe for concurrent use.
type Scheduler struct {
	params Params
	model  Model
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithModel replaces the standard FSRS formulas.
func WithModel(m Model) Option {
	return func(s *Scheduler) {
		s.model = m
	}
}

// NewScheduler validates params and returns a Scheduler using them.
func NewScheduler(params Params, opts ...Option) (*Scheduler, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{params: params, model: NewModel(params)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Params returns the parameter set the Scheduler was built with.
func (s *Scheduler) Params() Params {
	return s.params
}

// Next returns the state of card after it is rated at now. The input card is
// not modified and the result depends only on the arguments.
func (s *Scheduler) Next(card Card, rating Rating, now time.Time) (Card, error) {
	if !rating.IsValid() {
		return Card{}, fmt.Errorf("%w: %d", ErrInvalidRating, int(rating))
	}
	if err := s.check(card, now); err != nil {
		return Card{}, err
	}

	elapsed := 0.0
	if card.LastReview != nil {
		elapsed = now.Sub(*card.LastReview).Hours() / 24
	}

	reviewedAt := now
	next := card
	next.LastReview = &reviewedAt
	next.ElapsedDays = roundHalfUp(elapsed)
	next.Reps++
	if rating == Again {
		next.Lapses++
	}

	var err error
	next.Difficulty, next.Stability, err = s.memory(card, rating, elapsed)
	if err != nil {
		return Card{}, err
	}

	var interval time.Duration
	switch card.State {
	case New:
		next.State = Learning
		if rating == Easy {
			next.ScheduledDays = s.intervalDays(next.Stability)
			interval = days(next.ScheduledDays)
		} else {
			next.ScheduledDays = 0
			interval = s.params.NewSteps.interval(rating)
		}

	case Learning, Relearning:
		steps := s.params.LearningSteps
		if card.State == Relearning {
			steps = s.params.RelearningSteps
		}
		if rating == Again || rating == Hard {
			next.State = card.State
			next.ScheduledDays = 0
			interval = steps.interval(rating)
			break
		}
		next.State = Review
		next.ScheduledDays, err = s.graduationDays(card, rating, elapsed)
		if err != nil {
			return Card{}, err
		}
		interval = days(next.ScheduledDays)

	case Review:
		if rating == Again {
			next.State = Relearning
			next.ScheduledDays = 0
			interval = s.params.RelearningSteps.Again
			break
		}
		next.State = Review
		next.ScheduledDays, err = s.reviewDays(card, rating, elapsed)
		if err != nil {
			return Card{}, err
		}
		interval = days(next.ScheduledDays)
	}

	next.Due = now.Add(interval)
	return next, nil
}

// Preview returns the next state of card for every rating.
func (s *Scheduler) Preview(card Card, now time.Time) (map[Rating]Card, error) {
	out := make(map[Rating]Card, len(Ratings))
	for _, r := range Ratings {
		c, err := s.Next(card, r, now)
		if err != nil {
			return nil, err
		}
		out[r] = c
	}
	return out, nil
}

// Retrievability returns the estimated probability of recalling card at now.
// It is 0 for cards that have never been reviewed.
func (s *Scheduler) Retrievability(card Card, now time.Time) float64 {
	if card.State == New || card.LastReview == nil || card.Stability <= 0 {
		return 0
	}
	elapsed := math.Max(now.Sub(*card.LastReview).Hours()/24, 0)
	return s.model.Retrievability(elapsed, card.Stability)
}

// memory computes the difficulty and stability card has after rating.
func (s *Scheduler) memory(card Card, rating Rating, elapsed float64) (float64, float64, error) {
	var d, st float64
	switch card.State {
	case New:
		d = s.model.InitDifficulty(rating)
		st = s.model.InitStability(rating)
	case Learning:
		d = s.model.NextDifficulty(card.Difficulty, rating)
		st = s.model.InitStability(rating)
	default:
		d = s.model.NextDifficulty(card.Difficulty, rating)
		ret := s.model.Retrievability(elapsed, card.Stability)
		if rating == Again {
			st = math.Min(s.model.ForgetStability(card.Difficulty, card.Stability, ret), card.Stability)
		} else {
			st = math.Max(s.model.RecallStability(card.Difficulty, card.Stability, ret, rating), card.Stability)
		}
	}
	if !finite(d) || !finite(st) {
		return 0, 0, fmt.Errorf("%w: model produced difficulty %v, stability %v", ErrInvalidState, d, st)
	}
	d = math.Min(math.Max(d, s.params.MinDifficulty), s.params.MaxDifficulty)
	st = math.Max(st, minStability)
	return d, st, nil
}

// graduationDays is the first day interval of a card leaving (Re)learning.
// Easy always lands at least a day after Good.
func (s *Scheduler) graduationDays(card Card, rating Rating, elapsed float64) (int, error) {
	_, good, err := s.memory(card, Good, elapsed)
	if err != nil {
		return 0, err
	}
	goodDays := s.intervalDays(good)
	if rating == Good {
		return goodDays, nil
	}
	_, easy, err := s.memory(card, Easy, elapsed)
	if err != nil {
		return 0, err
	}
	return s.capDays(max(s.intervalDays(easy), goodDays+1)), nil
}

// reviewDays orders the Review intervals so that Hard <= Good < Easy.
func (s *Scheduler) reviewDays(card Card, rating Rating, elapsed float64) (int, error) {
	var ivl [Easy + 1]int
	for _, r := range []Rating{Hard, Good, Easy} {
		_, st, err := s.memory(card, r, elapsed)
		if err != nil {
			return 0, err
		}
		ivl[r] = s.intervalDays(st)
	}
	ivl[Hard] = min(ivl[Hard], ivl[Good])
	ivl[Good] = s.capDays(max(ivl[Good], ivl[Hard]+1))
	ivl[Easy] = s.capDays(max(ivl[Easy], ivl[Good]+1))
	return ivl[rating], nil
}

// intervalDays clamps in float space: huge stabilities would overflow the
// integer conversion.
func (s *Scheduler) intervalDays(stability float64) int {
	ivl := s.model.Interval(stability)
	if !(ivl >= 1) {
		return 1
	}
	return s.capDays(roundHalfUp(math.Min(ivl, float64(s.params.MaximumInterval))))
}

func (s *Scheduler) capDays(d int) int {
	return min(max(d, 1), s.params.MaximumInterval)
}

// check rejects persisted states the scheduler cannot reason about.
func (s *Scheduler) check(c Card, now time.Time) error {
	switch {
	case !c.State.IsValid():
		return fmt.Errorf("%w: unknown state %d", ErrInvalidState, int(c.State))
	case !finite(c.Stability) || c.Stability < 0:
		return fmt.Errorf("%w: stability %v", ErrInvalidState, c.Stability)
	case !finite(c.Difficulty):
		return fmt.Errorf("%w: difficulty %v", ErrInvalidState, c.Difficulty)
	case c.Reps < 0 || c.Lapses < 0 || c.ElapsedDays < 0 || c.ScheduledDays < 0:
		return fmt.Errorf("%w: negative counter (reps %d, lapses %d, elapsed %d, scheduled %d)",
			ErrInvalidState, c.Reps, c.Lapses, c.ElapsedDays, c.ScheduledDays)
	case c.Lapses > c.Reps:
		return fmt.Errorf("%w: %d lapses exceed %d reps", ErrInvalidState, c.Lapses, c.Reps)
	}

	if c.State == New {
		if c.Reps != 0 || c.LastReview != nil {
			return fmt.Errorf("%w: new card with %d reps", ErrInvalidState, c.Reps)
		}
		return nil
	}

	switch {
	case c.LastReview == nil:
		return fmt.Errorf("%w: %s card without a last review", ErrInvalidState, c.State)
	case c.Reps == 0:
		return fmt.Errorf("%w: %s card with no reps", ErrInvalidState, c.State)
	case c.Stability == 0:
		return fmt.Errorf("%w: %s card with zero stability", ErrInvalidState, c.State)
	case c.Difficulty < s.params.MinDifficulty || c.Difficulty > s.params.MaxDifficulty:
		return fmt.Errorf("%w: difficulty %v outside [%v, %v]",
			ErrInvalidState, c.Difficulty, s.params.MinDifficulty, s.params.MaxDifficulty)
	case now.Before(*c.LastReview):
		return fmt.Errorf("%w: review at %s precedes last review at %s",
			ErrInvalidState, now.Format(time.RFC3339), c.LastReview.Format(time.RFC3339))
	}
	return nil
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
