package httpapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the chat-path Prometheus collectors.
type Metrics struct {
	chatRequests *prometheus.CounterVec
	chatErrors   prometheus.Counter
	chatDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors. A nil registerer uses
// the default registry; tests pass their own to avoid duplicate
// registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agencyd",
			Name:      "chat_requests_total",
			Help:      "Chat requests handled, by route.",
		}, []string{"route"}),
		chatErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agencyd",
			Name:      "chat_errors_total",
			Help:      "Chat requests that ended in a terminal error chunk.",
		}),
		chatDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agencyd",
			Name:      "chat_duration_seconds",
			Help:      "End-to-end chat handling duration, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.chatRequests, m.chatErrors, m.chatDuration)
	return m
}

// ObserveChat records one handled chat request.
func (m *Metrics) ObserveChat(route string, took time.Duration) {
	m.chatRequests.WithLabelValues(route).Inc()
	m.chatDuration.WithLabelValues(route).Observe(took.Seconds())
}

// IncChatError records one failed chat request.
func (m *Metrics) IncChatError() {
	m.chatErrors.Inc()
}
