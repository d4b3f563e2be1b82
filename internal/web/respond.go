package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/conorfennell/cardcue/internal/flashcards"
	"github.com/conorfennell/cardcue/internal/session"
)

var errBadRequest = errors.New("bad request")

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// statusFor maps a service error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrInvalidRating):
		return http.StatusBadRequest, "invalid_rating"
	case errors.Is(err, flashcards.ErrValidation), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, session.ErrUnauthenticated), errors.Is(err, flashcards.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, flashcards.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrConflict), errors.Is(err, flashcards.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := errorResponse{Error: code, Message: err.Error()}

	var verr *flashcards.ValidationError
	if errors.As(err, &verr) {
		body.Details = verr.Fields
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		body.Message = "internal server error"
	}
	respondJSON(w, status, body)
}

func (s *Server) authError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Debug("Rejected request", zap.String("path", r.URL.Path), zap.Error(err))
	respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: err.Error()})
}
