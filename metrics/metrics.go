// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fidexa"

var DealsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "deal",
	Name:      "created_total",
	Help:      "Deals created.",
})

var DealCreateRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "deal",
	Name:      "create_rejected_total",
	Help:      "Deal creations rejected, by error kind.",
}, []string{"kind"})

var DealTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "deal",
	Name:      "transitions_total",
	Help:      "Deal transition attempts by event and outcome.",
}, []string{"event", "outcome"})

var TransitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "deal",
	Name:      "transition_duration_seconds",
	Help:      "Time spent inside the transition transaction.",
	Buckets:   prometheus.DefBuckets,
}, []string{"event"})

var TimeoutSweepCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "deal",
	Name:      "timeout_completed_total",
	Help:      "Deals auto-completed after the validation window elapsed.",
})

var Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "payment",
	Name:      "settlements_total",
	Help:      "Settlement processor calls by kind and outcome.",
}, []string{"kind", "outcome"})

var PaymentCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "payment",
	Name:      "callbacks_total",
	Help:      "Payment callbacks by outcome.",
}, []string{"outcome"})

var DisputesOpened = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "dispute",
	Name:      "opened_total",
	Help:      "Disputes opened.",
})

var OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "outbox",
	Name:      "messages_total",
	Help:      "Outbox messages handed to the broker, by outcome.",
}, []string{"outcome"})

var JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "jobs",
	Name:      "runs_total",
	Help:      "Scheduled job runs by job and outcome.",
}, []string{"job", "outcome"})
