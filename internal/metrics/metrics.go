// Package metrics exposes the Prometheus collectors for the validation
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govline_requests_submitted_total",
		Help: "Validation requests accepted, by type.",
	}, []string{"type"})

	RequestsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govline_requests_decided_total",
		Help: "Validation requests decided, by type and outcome.",
	}, []string{"type", "outcome"})

	DecisionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "govline_decision_conflicts_total",
		Help: "Decide attempts that lost the race on an already processed request.",
	})

	EffectsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govline_effects_skipped_total",
		Help: "Approvals whose project side effect was skipped because its precondition no longer held.",
	}, []string{"type"})

	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "govline_notifications_sent_total",
		Help: "Notification rows written by the dispatcher.",
	})

	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "govline_notifications_failed_total",
		Help: "Notification deliveries that failed or were dropped.",
	})
)
