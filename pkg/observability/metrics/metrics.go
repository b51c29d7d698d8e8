package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	requestsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proof_requests_created_total",
			Help: "Proof requests created, by source (direct or template).",
		},
		[]string{"source"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proof_requests_transitions_total",
			Help: "Lifecycle transitions attempted, by event and outcome.",
		},
		[]string{"event", "outcome"},
	)

	bulkItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proof_requests_bulk_items_total",
			Help: "Per-id outcomes of bulk actions.",
		},
		[]string{"action", "outcome"},
	)

	queryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proof_requests_query_duration_seconds",
			Help:    "Time spent listing and paging proof requests.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)
)

func init() {
	registry.MustRegister(requestsCreated, transitions, bulkItems, queryDuration)
}

func ObserveCreated(source string) {
	requestsCreated.WithLabelValues(source).Inc()
}

func ObserveTransition(event string, ok bool) {
	transitions.WithLabelValues(event, outcome(ok)).Inc()
}

func ObserveBulk(action string, succeeded, failed int) {
	bulkItems.WithLabelValues(action, "success").Add(float64(succeeded))
	bulkItems.WithLabelValues(action, "failure").Add(float64(failed))
}

func ObserveQuery(seconds float64) {
	queryDuration.Observe(seconds)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
