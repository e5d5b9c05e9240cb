// Package metrics registers the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConfirmationsConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_confirmations_confirmed_total",
			Help: "Confirmations finalized as CONFIRMED",
		},
	)

	ConfirmationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_confirmations_expired_total",
			Help: "Confirmations finalized as EXPIRED, via endpoint or sweep",
		},
	)

	DeadLetteredMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_lettered_messages_total",
			Help: "Messages escalated to a dead-letter topic",
		},
		[]string{"topic"},
	)

	SweepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_transitions_total",
			Help: "Entity state transitions applied by scheduled sweeps",
		},
		[]string{"sweep"},
	)

	MessageProcessing = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_processing_duration_seconds",
			Help:    "Time spent handling one delivery",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"topic", "outcome"},
	)
)
