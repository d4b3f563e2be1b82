package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardcue/internal/auth"
	"github.com/conorfennell/cardcue/internal/flashcards"
	"github.com/conorfennell/cardcue/internal/fsrs"
	"github.com/conorfennell/cardcue/internal/session"
	"github.com/conorfennell/cardcue/internal/storage"
	"github.com/conorfennell/cardcue/internal/telemetry"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

type testServer struct {
	*httptest.Server
	handler http.Handler
	metrics *telemetry.Collector
	user    uuid.UUID
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "cardcue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	scheduler, err := fsrs.NewScheduler(fsrs.DefaultParams())
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(auth.Config{Secret: testSecret, Audience: "authenticated"})
	require.NoError(t, err)
	metrics := telemetry.NewCollector("cardcue")

	srv := NewServer(Options{
		Sessions: session.NewService(db, scheduler, session.WithMetrics(metrics)),
		Cards:    flashcards.NewService(db, flashcards.WithCounter(metrics)),
		DB:       db,
		Verifier: verifier,
		Metrics:  metrics,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	user := uuid.New()
	token, err := auth.Sign(testSecret, user, time.Hour, "authenticated", "")
	require.NoError(t, err)
	return &testServer{Server: ts, handler: srv, metrics: metrics, user: user, token: token}
}

// do sends an authenticated request and decodes a JSON response into out.
func (ts *testServer) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type cardJSON struct {
	ID     int64  `json:"id"`
	Front  string `json:"front"`
	Back   string `json:"back"`
	Source string `json:"source"`
	State  string `json:"state"`
	Reps   int    `json:"reps"`
}

func (ts *testServer) createManual(t *testing.T, fronts ...string) []cardJSON {
	t.Helper()
	var items []string
	for _, f := range fronts {
		items = append(items, fmt.Sprintf(`{"front":%q,"back":"answer","source":"manual"}`, f))
	}
	var created struct {
		Flashcards []cardJSON `json:"flashcards"`
	}
	status := ts.do(t, http.MethodPost, "/api/flashcards", `{"flashcards":[`+strings.Join(items, ",")+`]}`, &created)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, created.Flashcards, len(fronts))
	return created.Flashcards
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := ts.Client().Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	// Served in-process so the request is recorded before the assertions run.
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.HTTPRequests.WithLabelValues("GET", "/api/session/", "200")))

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cardcue_http_requests_total")
}

func TestAPIRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	testCases := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"no token", func(*http.Request) {}},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+ts.token) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/session", nil)
			require.NoError(t, err)
			tc.setup(req)

			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "unauthenticated", body.Error)
		})
	}
}

func TestAPIAcceptsSessionCookie(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/session", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: ts.token})

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReviewSession(t *testing.T) {
	ts := newTestServer(t)
	cards := ts.createManual(t, "What is Go?", "What is a channel?")

	var due []cardJSON
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/session", "", &due))
	require.Len(t, due, 2)
	assert.Equal(t, cards[0].ID, due[0].ID)
	assert.Equal(t, "New", due[0].State)

	var preview map[string]json.RawMessage
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, fmt.Sprintf("/api/session/preview/%d", cards[0].ID), "", &preview))
	assert.Len(t, preview, 4)
	assert.Contains(t, preview, "again")
	assert.Contains(t, preview, "easy")

	var rated cardJSON
	status := ts.do(t, http.MethodPost, "/api/session/rate", fmt.Sprintf(`{"flashcardId":%d,"rating":4}`, cards[0].ID), &rated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, rated.Reps)
	assert.NotEqual(t, "New", rated.State)

	var logs []struct {
		Rating      int    `json:"rating"`
		StateBefore string `json:"state_before"`
	}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, fmt.Sprintf("/api/flashcards/%d/reviews", cards[0].ID), "", &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, 4, logs[0].Rating)
	assert.Equal(t, "New", logs[0].StateBefore)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/session", "", &due))
	require.Len(t, due, 1, "an easy new card leaves the session")
	assert.Equal(t, cards[1].ID, due[0].ID)
}

func TestRateErrors(t *testing.T) {
	ts := newTestServer(t)
	card := ts.createManual(t, "q")[0]

	testCases := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"rating too high", fmt.Sprintf(`{"flashcardId":%d,"rating":5}`, card.ID), http.StatusBadRequest, "invalid_rating"},
		{"rating missing", fmt.Sprintf(`{"flashcardId":%d}`, card.ID), http.StatusBadRequest, "invalid_rating"},
		{"card missing", `{"rating":3}`, http.StatusBadRequest, "invalid_request"},
		{"malformed body", `{"flashcardId":`, http.StatusBadRequest, "invalid_request"},
		{"unknown field", `{"flashcardId":1,"rating":3,"extra":true}`, http.StatusBadRequest, "invalid_request"},
		{"unknown card", `{"flashcardId":9999,"rating":3}`, http.StatusNotFound, "not_found"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var body errorResponse
			status := ts.do(t, http.MethodPost, "/api/session/rate", tc.body, &body)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantCode, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestFlashcardCRUD(t *testing.T) {
	ts := newTestServer(t)
	card := ts.createManual(t, "before")[0]
	path := fmt.Sprintf("/api/flashcards/%d", card.ID)

	var got cardJSON
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, "", &got))
	assert.Equal(t, "before", got.Front)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, path, `{"front":"after"}`, &got))
	assert.Equal(t, "after", got.Front)
	assert.Equal(t, "answer", got.Back)

	var deleted struct {
		Success bool `json:"success"`
	}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, path, "", &deleted))
	assert.True(t, deleted.Success)

	var body errorResponse
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, "", &body))
	assert.Equal(t, "not_found", body.Error)
}

func TestFlashcardValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	card := ts.createManual(t, "q")[0]

	testCases := []struct {
		name, method, path, body string
	}{
		{"empty batch", http.MethodPost, "/api/flashcards", `{"flashcards":[]}`},
		{"ai card without generation", http.MethodPost, "/api/flashcards", `{"flashcards":[{"front":"f","back":"b","source":"ai-full"}]}`},
		{"front too long", http.MethodPost, "/api/flashcards", `{"flashcards":[{"front":"` + strings.Repeat("x", 201) + `","back":"b","source":"manual"}]}`},
		{"empty update", http.MethodPut, fmt.Sprintf("/api/flashcards/%d", card.ID), `{}`},
		{"bad id", http.MethodGet, "/api/flashcards/abc", ""},
		{"bad limit", http.MethodGet, "/api/flashcards?limit=many", ""},
		{"limit too large", http.MethodGet, "/api/flashcards?limit=101", ""},
		{"unknown sort", http.MethodGet, "/api/flashcards?sort=back", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var body errorResponse
			status := ts.do(t, tc.method, tc.path, tc.body, &body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "invalid_request", body.Error)
		})
	}
}

func TestListFlashcards(t *testing.T) {
	ts := newTestServer(t)
	ts.createManual(t, "charlie", "alpha", "bravo")

	var page struct {
		Data       []cardJSON `json:"data"`
		Pagination struct {
			Page  int `json:"page"`
			Limit int `json:"limit"`
			Total int `json:"total"`
		} `json:"pagination"`
	}
	status := ts.do(t, http.MethodGet, "/api/flashcards?sort=front&order=asc&limit=2&page=1", "", &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "alpha", page.Data[0].Front)
	assert.Equal(t, "bravo", page.Data[1].Front)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Limit)
}

func TestStatusFor(t *testing.T) {
	testCases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{session.ErrInvalidRating, http.StatusBadRequest, "invalid_rating"},
		{fmt.Errorf("wrapped: %w", flashcards.ErrValidation), http.StatusBadRequest, "invalid_request"},
		{session.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{flashcards.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{session.ErrNotFound, http.StatusNotFound, "not_found"},
		{flashcards.ErrNotFound, http.StatusNotFound, "not_found"},
		{session.ErrConflict, http.StatusConflict, "conflict"},
		{flashcards.ErrConflict, http.StatusConflict, "conflict"},
		{session.ErrPersistence, http.StatusInternalServerError, "internal_error"},
		{session.ErrInvalidState, http.StatusInternalServerError, "internal_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range testCases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, code := statusFor(tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantCode, code)
		})
	}
}
