package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the arena
type Metrics struct {
	// Competition metrics
	CompetitionsTotal   *prometheus.CounterVec
	CompetitionDuration prometheus.Histogram
	ExpertInvocations   *prometheus.CounterVec
	ExpertLatency       *prometheus.HistogramVec
	ExpertWins          *prometheus.CounterVec
	LateResults         *prometheus.CounterVec

	// Recorder metrics
	RecorderWrites      *prometheus.CounterVec
	PersistenceFailures prometheus.Counter
	RecorderQueueDepth  prometheus.Gauge

	// Learning metrics
	LearningTransitions   *prometheus.CounterVec
	LearningsProposed     *prometheus.CounterVec
	LearningApplications  *prometheus.CounterVec
	RetrievalDegradations *prometheus.CounterVec
	RetrievalDuration     prometheus.Histogram
	ExtractionFailures    *prometheus.CounterVec
	ExtractionJobs        *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			CompetitionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_competitions_total",
					Help: "Total number of competitions by result",
				},
				[]string{"result"},
			),
			CompetitionDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "arena_competition_duration_seconds",
					Help:    "Wall time of a competition in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
				},
			),
			ExpertInvocations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_expert_invocations_total",
					Help: "Total number of expert invocations by status",
				},
				[]string{"expert", "status"},
			),
			ExpertLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "arena_expert_latency_seconds",
					Help:    "Expert response latency in seconds",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
				},
				[]string{"expert"},
			),
			ExpertWins: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_expert_wins_total",
					Help: "Total number of competitions won per expert",
				},
				[]string{"expert", "task_category"},
			),
			LateResults: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_late_results_total",
					Help: "Expert results that arrived after the deadline",
				},
				[]string{"expert"},
			),

			RecorderWrites: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_recorder_writes_total",
					Help: "Competition write attempts by result",
				},
				[]string{"result"},
			),
			PersistenceFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "arena_persistence_failures_total",
					Help: "Competitions dropped after exhausting write attempts",
				},
			),
			RecorderQueueDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "arena_recorder_queue_depth",
					Help: "Competitions waiting to be persisted",
				},
			),

			LearningTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_learning_transitions_total",
					Help: "Learning state transitions",
				},
				[]string{"to_state"},
			),
			LearningsProposed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_learnings_proposed_total",
					Help: "Learnings proposed by the extractor",
				},
				[]string{"scope"},
			),
			LearningApplications: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_learning_applications_total",
					Help: "Recorded learning applications by outcome",
				},
				[]string{"outcome"},
			),
			RetrievalDegradations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_retrieval_degradations_total",
					Help: "Retrievals that fell back to no guidance",
				},
				[]string{"reason"},
			),
			RetrievalDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "arena_retrieval_duration_seconds",
					Help:    "Learning retrieval duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
				},
			),
			ExtractionFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_extraction_failures_total",
					Help: "Learning extraction failures by job kind",
				},
				[]string{"kind"},
			),
			ExtractionJobs: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_extraction_jobs_total",
					Help: "Extraction jobs by kind and result",
				},
				[]string{"kind", "result"},
			),

			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arena_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "arena_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordExpertInvocation records one expert call
func (m *Metrics) RecordExpertInvocation(expert, status string, latencyMs int64) {
	m.ExpertInvocations.WithLabelValues(expert, status).Inc()
	m.ExpertLatency.WithLabelValues(expert).Observe(float64(latencyMs) / 1000.0)
}

// RecordLearningTransition records a learning state change
func (m *Metrics) RecordLearningTransition(toState string) {
	m.LearningTransitions.WithLabelValues(toState).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
