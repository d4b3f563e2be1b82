package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conorfennell/cardcue/internal/auth"
	"github.com/conorfennell/cardcue/internal/domain"
	"github.com/conorfennell/cardcue/internal/flashcards"
	"github.com/conorfennell/cardcue/internal/fsrs"
	"github.com/conorfennell/cardcue/internal/telemetry"
)

// Sessions runs review sessions.
type Sessions interface {
	GetDueCards(ctx context.Context, userID uuid.UUID) ([]domain.Flashcard, error)
	RateCard(ctx context.Context, userID uuid.UUID, cardID int64, rating fsrs.Rating) (domain.Flashcard, error)
	PreviewCard(ctx context.Context, userID uuid.UUID, cardID int64) (map[fsrs.Rating]fsrs.Card, error)
}

// Cards manages a user's flashcards.
type Cards interface {
	Create(ctx context.Context, userID uuid.UUID, inputs []flashcards.CreateInput) ([]domain.Flashcard, error)
	List(ctx context.Context, userID uuid.UUID, q flashcards.ListQuery) (flashcards.Page, error)
	Get(ctx context.Context, userID uuid.UUID, id int64) (domain.Flashcard, error)
	Update(ctx context.Context, userID uuid.UUID, id int64, in flashcards.UpdateInput) (domain.Flashcard, error)
	Delete(ctx context.Context, userID uuid.UUID, id int64) error
	Reviews(ctx context.Context, userID uuid.UUID, id int64) ([]domain.ReviewLog, error)
}

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options holds the dependencies of the HTTP server.
type Options struct {
	Sessions    Sessions
	Cards       Cards
	DB          Pinger
	Verifier    *auth.Verifier
	Metrics     *telemetry.Collector
	Logger      *zap.Logger
	CORSOrigins []string
}

// Server is the JSON API.
type Server struct {
	router   chi.Router
	sessions Sessions
	cards    Cards
	db       Pinger
	metrics  *telemetry.Collector
	logger   *zap.Logger
}

// NewServer creates and configures a new server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:   chi.NewRouter(),
		sessions: opts.Sessions,
		cards:    opts.Cards,
		db:       opts.DB,
		metrics:  opts.Metrics,
		logger:   logger,
	}
	s.routes(opts.Verifier, opts.CORSOrigins)
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(verifier *auth.Verifier, origins []string) {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.instrument)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(verifier, s.authError))

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/rate", s.handleRate)
			r.Get("/preview/{id}", s.handlePreview)
		})

		r.Route("/flashcards", func(r chi.Router) {
			r.Get("/", s.handleListFlashcards)
			r.Post("/", s.handleCreateFlashcards)
			r.Get("/{id}", s.handleGetFlashcard)
			r.Put("/{id}", s.handleUpdateFlashcard)
			r.Delete("/{id}", s.handleDeleteFlashcard)
			r.Get("/{id}/reviews", s.handleListReviews)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("Readiness check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// instrument logs every request and records it in the metrics collector
// under its route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			d := time.Since(start)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if s.metrics != nil {
				s.metrics.ObserveHTTP(r.Method, route, status, d)
			}
			s.logger.Info("HTTP Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", d),
				zap.String("requestID", chimiddleware.GetReqID(r.Context())),
				zap.String("remoteAddr", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
