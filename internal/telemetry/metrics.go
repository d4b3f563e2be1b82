package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conorfennell/cardcue/internal/fsrs"
)

// Collector holds the Prometheus metrics of the service. Each Collector owns
// its registry, so several can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	Ratings        *prometheus.CounterVec
	RatingDuration prometheus.Histogram
	Conflicts      prometheus.Counter
	DueCards       prometheus.Histogram
	CardsCreated   prometheus.Counter
}

// NewCollector creates and registers every metric under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Ratings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratings_total",
				Help:      "Ratings applied, by rating and resulting state",
			},
			[]string{"rating", "state"},
		),
		RatingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rating_duration_seconds",
				Help:      "Time to load, schedule and persist a rating",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Conflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rating_conflicts_total",
				Help:      "Ratings rejected because the card changed concurrently",
			},
		),
		DueCards: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "due_cards",
				Help:      "Number of due cards returned per session request",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		CardsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flashcards_created_total",
				Help:      "Total number of flashcards created",
			},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests,
		c.HTTPDuration,
		c.Ratings,
		c.RatingDuration,
		c.Conflicts,
		c.DueCards,
		c.CardsCreated,
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveRating(rating fsrs.Rating, state fsrs.State, d time.Duration) {
	c.Ratings.WithLabelValues(rating.String(), state.String()).Inc()
	c.RatingDuration.Observe(d.Seconds())
}

func (c *Collector) IncConflict() {
	c.Conflicts.Inc()
}

func (c *Collector) ObserveDueCards(n int) {
	c.DueCards.Observe(float64(n))
}

func (c *Collector) AddCardsCreated(n int) {
	c.CardsCreated.Add(float64(n))
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
