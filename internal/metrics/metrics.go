// Package metrics exposes prometheus instrumentation for the validation
// engine and the HTTP server that serves it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors. Build one per process with New and
// share it through the manager registry.
type Metrics struct {
	registry *prometheus.Registry

	Submissions       prometheus.Counter
	Transitions       *prometheus.CounterVec
	TransitionsDenied prometheus.Counter
	FeedbackAdded     prometheus.Counter
	ConsensusRuns     *prometheus.CounterVec
	ConsensusDuration prometheus.Histogram
	EventsPublished   *prometheus.CounterVec
	SubscriberFaults  prometheus.Counter
}

// New creates and registers the engine collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Submissions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validation_submissions_total",
		Help: "Number of validation requests submitted.",
	})
	m.Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_state_transitions_total",
		Help: "Number of lifecycle transitions, by target state.",
	}, []string{"target"})
	m.TransitionsDenied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validation_state_transitions_denied_total",
		Help: "Number of lifecycle transitions denied by the transition table.",
	})
	m.FeedbackAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validation_feedback_total",
		Help: "Number of feedback entries accepted.",
	})
	m.ConsensusRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_consensus_runs_total",
		Help: "Number of consensus computations, by algorithm.",
	}, []string{"algorithm"})
	m.ConsensusDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "validation_consensus_duration_seconds",
		Help:    "Duration of consensus computations.",
		Buckets: prometheus.DefBuckets,
	})
	m.EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_events_published_total",
		Help: "Number of events published on the bus, by event type.",
	}, []string{"event_type"})
	m.SubscriberFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validation_subscriber_faults_total",
		Help: "Number of subscriber callbacks that faulted during delivery.",
	})

	m.registry.MustRegister(
		m.Submissions,
		m.Transitions,
		m.TransitionsDenied,
		m.FeedbackAdded,
		m.ConsensusRuns,
		m.ConsensusDuration,
		m.EventsPublished,
		m.SubscriberFaults,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer builds an HTTP server exposing /metrics and /healthz.
func NewServer(addr string, m *Metrics, health func() error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
