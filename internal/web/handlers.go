package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/conorfennell/cardcue/internal/auth"
	"github.com/conorfennell/cardcue/internal/domain"
	"github.com/conorfennell/cardcue/internal/flashcards"
	"github.com/conorfennell/cardcue/internal/fsrs"
)

// maxBodyBytes bounds request bodies; a full batch of 50 cards fits well
// within it.
const maxBodyBytes = 1 << 20

type rateRequest struct {
	FlashcardID int64       `json:"flashcardId"`
	Rating      fsrs.Rating `json:"rating"`
}

type createRequest struct {
	Flashcards []flashcards.CreateInput `json:"flashcards"`
}

func userID(r *http.Request) uuid.UUID {
	id, _ := auth.UserID(r.Context())
	return id
}

func cardID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid flashcard id %q", errBadRequest, chi.URLParam(r, "id"))
	}
	return id, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	cards, err := s.sessions.GetDueCards(r.Context(), userID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cards)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.FlashcardID <= 0 {
		s.respondError(w, r, fmt.Errorf("%w: flashcardId is required", errBadRequest))
		return
	}

	card, err := s.sessions.RateCard(r.Context(), userID(r), req.FlashcardID, req.Rating)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

// handlePreview returns the card each rating would produce, keyed by the
// lower-case rating name.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, err := cardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	preview, err := s.sessions.PreviewCard(r.Context(), userID(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make(map[string]fsrs.Card, len(preview))
	for rating, card := range preview {
		out[strings.ToLower(rating.String())] = card
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListFlashcards(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	page, err := s.cards.List(r.Context(), userID(r), q)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// listQuery reads the listing parameters. Absent parameters stay zero so the
// service applies its defaults.
func listQuery(r *http.Request) (flashcards.ListQuery, error) {
	params := r.URL.Query()
	q := flashcards.ListQuery{
		Sort:   params.Get("sort"),
		Order:  params.Get("order"),
		Source: domain.Source(params.Get("source")),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"page", &q.Page},
		{"limit", &q.Limit},
	}
	for _, p := range ints {
		v := params.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, fmt.Errorf("%w: %s must be an integer", errBadRequest, p.name)
		}
		*p.dst = n
	}

	if v := params.Get("generation_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, fmt.Errorf("%w: generation_id must be an integer", errBadRequest)
		}
		q.GenerationID = &id
	}
	return q, nil
}

func (s *Server) handleCreateFlashcards(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	created, err := s.cards.Create(r.Context(), userID(r), req.Flashcards)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"flashcards": created})
}

func (s *Server) handleGetFlashcard(w http.ResponseWriter, r *http.Request) {
	id, err := cardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	card, err := s.cards.Get(r.Context(), userID(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

func (s *Server) handleUpdateFlashcard(w http.ResponseWriter, r *http.Request) {
	id, err := cardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var in flashcards.UpdateInput
	if err := decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	card, err := s.cards.Update(r.Context(), userID(r), id, in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

func (s *Server) handleDeleteFlashcard(w http.ResponseWriter, r *http.Request) {
	id, err := cardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.cards.Delete(r.Context(), userID(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Flashcard deleted successfully",
	})
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	id, err := cardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	logs, err := s.cards.Reviews(r.Context(), userID(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}
