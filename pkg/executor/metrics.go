package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_calls_total",
		Help: "Total number of executor calls by action and outcome",
	}, []string{"action", "outcome"})

	executorAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_attempts_total",
		Help: "Total number of executor attempts, including retries",
	}, []string{"action"})

	executorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "executor_call_duration_seconds",
		Help:    "Duration of executor calls, including retries",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"action"})
)
