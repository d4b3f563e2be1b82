package fsrs

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := NewScheduler(DefaultParams())
	require.NoError(t, err)
	return s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func reviewCard() Card {
	return Card{
		Due:           t0.Add(10 * 24 * time.Hour),
		Stability:     10,
		Difficulty:    5,
		ScheduledDays: 10,
		Reps:          4,
		State:         Review,
		LastReview:    timePtr(t0),
	}
}

func TestNextNewCardGood(t *testing.T) {
	s := newScheduler(t)

	next, err := s.Next(NewCard(t0), Good, t0)
	require.NoError(t, err)

	assert.Equal(t, Learning, next.State)
	assert.Equal(t, 1, next.Reps)
	assert.Equal(t, 0, next.Lapses)
	require.NotNil(t, next.LastReview)
	assert.True(t, next.LastReview.Equal(t0))
	assert.True(t, next.Due.After(t0))
	assert.Equal(t, t0.Add(10*time.Minute), next.Due)
	assert.Equal(t, 0, next.ScheduledDays)
	assert.Equal(t, DefaultParams().W[Good-1], next.Stability)
}

func TestNextReviewCardAgain(t *testing.T) {
	s := newScheduler(t)
	now := t0.Add(15 * 24 * time.Hour)

	next, err := s.Next(reviewCard(), Again, now)
	require.NoError(t, err)

	assert.Equal(t, Relearning, next.State)
	assert.Equal(t, 1, next.Lapses)
	assert.Equal(t, 5, next.Reps)
	assert.Less(t, next.Stability, 10.0)
	assert.Equal(t, 15, next.ElapsedDays)
	assert.Equal(t, 0, next.ScheduledDays)
	assert.WithinDuration(t, now, next.Due, time.Hour)
	assert.False(t, next.Due.Before(now))
}

func TestNextTransitions(t *testing.T) {
	s := newScheduler(t)
	learning, err := s.Next(NewCard(t0), Good, t0)
	require.NoError(t, err)
	relearning, err := s.Next(reviewCard(), Again, t0.Add(24*time.Hour))
	require.NoError(t, err)

	testCases := []struct {
		name   string
		card   Card
		now    time.Time
		rating Rating
		want   State
	}{
		{"New Again", NewCard(t0), t0, Again, Learning},
		{"New Hard", NewCard(t0), t0, Hard, Learning},
		{"New Good", NewCard(t0), t0, Good, Learning},
		{"New Easy", NewCard(t0), t0, Easy, Learning},
		{"Learning Again", learning, learning.Due, Again, Learning},
		{"Learning Hard", learning, learning.Due, Hard, Learning},
		{"Learning Good", learning, learning.Due, Good, Review},
		{"Learning Easy", learning, learning.Due, Easy, Review},
		{"Review Again", reviewCard(), t0.Add(10 * 24 * time.Hour), Again, Relearning},
		{"Review Hard", reviewCard(), t0.Add(10 * 24 * time.Hour), Hard, Review},
		{"Review Good", reviewCard(), t0.Add(10 * 24 * time.Hour), Good, Review},
		{"Review Easy", reviewCard(), t0.Add(10 * 24 * time.Hour), Easy, Review},
		{"Relearning Again", relearning, relearning.Due, Again, Relearning},
		{"Relearning Hard", relearning, relearning.Due, Hard, Relearning},
		{"Relearning Good", relearning, relearning.Due, Good, Review},
		{"Relearning Easy", relearning, relearning.Due, Easy, Review},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := s.Next(tc.card, tc.rating, tc.now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, next.State)
			assert.Equal(t, tc.card.Reps+1, next.Reps)
			if tc.want == Review {
				assert.GreaterOrEqual(t, next.ScheduledDays, 1)
				assert.Equal(t, tc.now.Add(time.Duration(next.ScheduledDays)*24*time.Hour), next.Due)
			}
		})
	}
}

func TestNextNewCardEasyGetsDayInterval(t *testing.T) {
	s := newScheduler(t)

	next, err := s.Next(NewCard(t0), Easy, t0)
	require.NoError(t, err)

	assert.Equal(t, Learning, next.State)
	assert.GreaterOrEqual(t, next.ScheduledDays, 1)
	assert.Equal(t, t0.Add(time.Duration(next.ScheduledDays)*24*time.Hour), next.Due)
}

func TestNextInvalidRating(t *testing.T) {
	s := newScheduler(t)
	for _, r := range []Rating{0, 5, -1} {
		_, err := s.Next(NewCard(t0), r, t0)
		assert.ErrorIs(t, err, ErrInvalidRating, "rating %d", int(r))
	}
}

func TestNextInvalidState(t *testing.T) {
	s := newScheduler(t)

	testCases := []struct {
		name   string
		mutate func(c *Card)
	}{
		{"negative stability", func(c *Card) { c.Stability = -1 }},
		{"NaN stability", func(c *Card) { c.Stability = math.NaN() }},
		{"difficulty above range", func(c *Card) { c.Difficulty = 11 }},
		{"difficulty below range", func(c *Card) { c.Difficulty = 0.5 }},
		{"negative reps", func(c *Card) { c.Reps = -1 }},
		{"lapses exceed reps", func(c *Card) { c.Lapses = 9 }},
		{"unknown state", func(c *Card) { c.State = 7 }},
		{"missing last review", func(c *Card) { c.LastReview = nil }},
		{"zero stability", func(c *Card) { c.Stability = 0 }},
		{"new with reps", func(c *Card) { c.State = New }},
		{"review before last review", func(c *Card) { c.LastReview = timePtr(t0.Add(30 * 24 * time.Hour)) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			card := reviewCard()
			tc.mutate(&card)
			_, err := s.Next(card, Good, t0.Add(10*24*time.Hour))
			assert.ErrorIs(t, err, ErrInvalidState)
		})
	}
}

func TestNextIsDeterministic(t *testing.T) {
	s := newScheduler(t)
	now := t0.Add(9*24*time.Hour + 7*time.Hour)

	for _, r := range Ratings {
		first, err := s.Next(reviewCard(), r, now)
		require.NoError(t, err)
		second, err := s.Next(reviewCard(), r, now)
		require.NoError(t, err)
		assert.Equal(t, first, second, r.String())
	}
}

func TestNextDoesNotMutateInput(t *testing.T) {
	s := newScheduler(t)
	card := reviewCard()
	before := *card.LastReview

	_, err := s.Next(card, Easy, t0.Add(12*24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, reviewCard(), card)
	assert.Equal(t, before, *card.LastReview)
}

func TestNextInvariantsOverRandomSessions(t *testing.T) {
	s := newScheduler(t)
	p := s.Params()
	rng := rand.New(rand.NewSource(42))

	for session := 0; session < 200; session++ {
		card := NewCard(t0)
		now := t0
		for i := 0; i < 30; i++ {
			rating := Ratings[rng.Intn(len(Ratings))]
			// Review on time, early or late.
			now = card.Due.Add(time.Duration(rng.Int63n(int64(72*time.Hour))) - 24*time.Hour)
			if card.LastReview != nil && now.Before(*card.LastReview) {
				now = *card.LastReview
			}

			next, err := s.Next(card, rating, now)
			require.NoError(t, err)

			assert.False(t, next.Due.Before(now), "due before now")
			assert.Equal(t, card.Reps+1, next.Reps)
			if rating == Again {
				assert.Equal(t, card.Lapses+1, next.Lapses)
			} else {
				assert.Equal(t, card.Lapses, next.Lapses)
			}
			assert.NotEqual(t, New, next.State)
			require.NotNil(t, next.LastReview)
			assert.True(t, next.LastReview.Equal(now))
			assert.GreaterOrEqual(t, next.Difficulty, p.MinDifficulty)
			assert.LessOrEqual(t, next.Difficulty, p.MaxDifficulty)
			assert.Greater(t, next.Stability, 0.0)
			assert.LessOrEqual(t, next.ScheduledDays, p.MaximumInterval)

			card = next
		}
	}
}

func TestHugeStabilityHitsMaximumInterval(t *testing.T) {
	s := newScheduler(t)

	for _, stability := range []float64{1e17, 1e19, 1e300} {
		t.Run(fmt.Sprint(stability), func(t *testing.T) {
			card := reviewCard()
			card.Stability = stability

			next, err := s.Next(card, Good, t0.Add(24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, DefaultParams().MaximumInterval, next.ScheduledDays)
		})
	}
}

func TestReviewIntervalsAreOrdered(t *testing.T) {
	s := newScheduler(t)

	for _, elapsed := range []int{1, 5, 10, 30} {
		preview, err := s.Preview(reviewCard(), t0.Add(time.Duration(elapsed)*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, preview, 4)

		hard, good, easy := preview[Hard].ScheduledDays, preview[Good].ScheduledDays, preview[Easy].ScheduledDays
		assert.LessOrEqual(t, hard, good, "elapsed %d", elapsed)
		assert.Less(t, good, easy, "elapsed %d", elapsed)
		assert.Equal(t, Relearning, preview[Again].State)
	}
}

func TestSuccessfulReviewGrowsStability(t *testing.T) {
	s := newScheduler(t)

	onTime, err := s.Next(reviewCard(), Good, t0.Add(10*24*time.Hour))
	require.NoError(t, err)
	early, err := s.Next(reviewCard(), Good, t0.Add(2*24*time.Hour))
	require.NoError(t, err)

	assert.Greater(t, onTime.Stability, 10.0)
	assert.GreaterOrEqual(t, early.Stability, 10.0)
	// Reviews closer to the scheduled interval earn a larger increase.
	assert.Greater(t, onTime.Stability, early.Stability)
}

func TestHigherRatingMeansLowerDifficulty(t *testing.T) {
	s := newScheduler(t)
	preview, err := s.Preview(reviewCard(), t0.Add(10*24*time.Hour))
	require.NoError(t, err)

	assert.Greater(t, preview[Again].Difficulty, preview[Hard].Difficulty)
	assert.Greater(t, preview[Hard].Difficulty, preview[Good].Difficulty)
	assert.Greater(t, preview[Good].Difficulty, preview[Easy].Difficulty)
}

func TestRetrievability(t *testing.T) {
	s := newScheduler(t)

	assert.Equal(t, 0.0, s.Retrievability(NewCard(t0), t0))
	// At t = S the forgetting curve passes through 90%.
	assert.InDelta(t, 0.9, s.Retrievability(reviewCard(), t0.Add(10*24*time.Hour)), 1e-9)
	assert.InDelta(t, 1.0, s.Retrievability(reviewCard(), t0), 1e-9)
}

type wildModel struct{ Model }

func (wildModel) NextDifficulty(float64, Rating) float64 { return 42 }
func (wildModel) InitDifficulty(Rating) float64          { return -3 }
func (wildModel) RecallStability(_, s, _ float64, _ Rating) float64 {
	return s / 2
}

func TestWithModelResultsAreClamped(t *testing.T) {
	p := DefaultParams()
	s, err := NewScheduler(p, WithModel(wildModel{NewModel(p)}))
	require.NoError(t, err)

	first, err := s.Next(NewCard(t0), Good, t0)
	require.NoError(t, err)
	assert.Equal(t, p.MinDifficulty, first.Difficulty)

	next, err := s.Next(reviewCard(), Good, t0.Add(10*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, p.MaxDifficulty, next.Difficulty)
	assert.Equal(t, 10.0, next.Stability, "a successful review never lowers stability")
}
