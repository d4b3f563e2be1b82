package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardcue/internal/fsrs"
)

func TestNewLogger(t *testing.T) {
	testCases := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "json", false},
		{"debug", "console", false},
		{"warn", "", false},
		{"loud", "json", true},
		{"info", "xml", true},
	}
	for _, tc := range testCases {
		t.Run(tc.level+"/"+tc.format, func(t *testing.T) {
			logger, err := NewLogger(tc.level, tc.format)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestCollector(t *testing.T) {
	// Two collectors must not clash over registration.
	_ = NewCollector("cardcue")
	c := NewCollector("cardcue")

	c.ObserveRating(fsrs.Good, fsrs.Review, 20*time.Millisecond)
	c.ObserveRating(fsrs.Good, fsrs.Review, 10*time.Millisecond)
	c.ObserveRating(fsrs.Again, fsrs.Relearning, 10*time.Millisecond)
	c.IncConflict()
	c.ObserveDueCards(3)
	c.AddCardsCreated(2)
	c.ObserveHTTP(http.MethodGet, "/api/session", http.StatusOK, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Ratings.WithLabelValues("Good", "Review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Ratings.WithLabelValues("Again", "Relearning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Conflicts))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.CardsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/api/session", "200")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cardcue_rating_conflicts_total 1")
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
