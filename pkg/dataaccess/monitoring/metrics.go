package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryLatency is the duration of database queries.
	QueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "dataaccess_query_latency",
			Help: "Duration of database queries",
		},
		[]string{"backend", "query", "table"},
	)

	// QueryTotalRequests is the total number of database queries.
	QueryTotalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataaccess_query_total_requests",
			Help: "Total number of database queries",
		},
		[]string{"backend", "query", "table"},
	)

	// QueryErrors is the total number of failed database queries.
	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataaccess_query_errors",
			Help: "Total number of failed database queries",
		},
		[]string{"backend", "query", "table"},
	)
)

// Track counts a query and starts its latency timer. Call the returned function when the query
// is done.
func Track(backend, query, table string) func() {
	QueryTotalRequests.WithLabelValues(backend, query, table).Inc()
	t := prometheus.NewTimer(QueryLatency.WithLabelValues(backend, query, table))
	return func() {
		t.ObserveDuration()
	}
}

// Failed counts a failed query.
func Failed(backend, query, table string) {
	QueryErrors.WithLabelValues(backend, query, table).Inc()
}
