package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_sweeps_total",
		Help: "Total number of sweeps by record type",
	}, []string{"type"})

	sweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_sweep_errors_total",
		Help: "Total number of sweeps that could not list due records",
	}, []string{"type"})

	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "scheduler_sweep_duration_seconds",
		Help: "Duration of sweeps by record type",
	}, []string{"type"})

	recordFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_record_failures_total",
		Help: "Total number of failed record expiries, retried on the next sweep",
	}, []string{"type"})

	forcedExpiries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_forced_expiries_total",
		Help: "Total number of records finalized without their external effect after too many failures",
	}, []string{"type"})
)
