package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the custom Prometheus metrics for the chat pipeline
type Metrics struct {
	ChatRequests       prometheus.Counter
	ChatRequestLatency prometheus.Histogram
	ChatErrors         *prometheus.CounterVec
	ChatRetrievals     prometheus.Counter
}

// InitMetrics initializes the Prometheus metrics and registers a gauge
// tracking live chat sessions.
func InitMetrics(sessions *SessionStore) *Metrics {
	metrics := &Metrics{
		ChatRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kalem_chat_requests_total",
			Help: "Total number of chat requests processed",
		}),

		ChatRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kalem_chat_request_duration_seconds",
			Help:    "Chat request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, // provider calls dominate
		}),

		ChatErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kalem_chat_errors_total",
			Help: "Total number of chat errors by type",
		}, []string{"error_type"}),

		ChatRetrievals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kalem_chat_retrievals_total",
			Help: "Total number of chat turns that triggered content retrieval",
		}),
	}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "kalem_chat_sessions_active",
			Help: "Current number of live chat sessions",
		},
		func() float64 {
			if sessions != nil {
				return float64(sessions.Len())
			}
			return 0
		},
	))

	return metrics
}

// RecordChatRequest records a chat request
func (m *Metrics) RecordChatRequest() {
	m.ChatRequests.Inc()
}

// RecordChatLatency records chat request latency
func (m *Metrics) RecordChatLatency(seconds float64) {
	m.ChatRequestLatency.Observe(seconds)
}

// RecordChatError records a chat error
func (m *Metrics) RecordChatError(errorType string) {
	m.ChatErrors.WithLabelValues(errorType).Inc()
}

// RecordRetrieval records a retrieval-grounded chat turn
func (m *Metrics) RecordRetrieval() {
	m.ChatRetrievals.Inc()
}
