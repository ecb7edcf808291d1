package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	moderationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_moderation_decisions_total",
		Help: "Total number of flagged messages by tier and resulting action",
	}, []string{"tier", "action"})

	sanctionsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_sanctions_total",
		Help: "Total number of sanction records appended by kind",
	}, []string{"kind"})

	actionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_action_failures_total",
		Help: "Total number of executor failures after the record was persisted",
	}, []string{"action"})

	expiries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_expiries_total",
		Help: "Total number of expiries by record type and outcome",
	}, []string{"type", "outcome"})

	ticketTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_ticket_transitions_total",
		Help: "Total number of ticket transitions by target state",
	}, []string{"state"})
)
