// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbtclaw_messages_received_total",
			Help: "Inbound transport messages by conversation kind and content type.",
		},
		[]string{"kind", "content_type"},
	)

	MessagesHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbtclaw_messages_handled_total",
			Help: "Dispatch outcomes (ignored, welcome, help_hint, answered, intent, error).",
		},
		[]string{"outcome"},
	)

	ActionsInvoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbtclaw_actions_invoked_total",
			Help: "Intent dispatches by result (ok, unknown, error).",
		},
		[]string{"result"},
	)

	PaymentResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbtclaw_payment_results_total",
			Help: "Payment verification results by reason.",
		},
		[]string{"source", "reason"},
	)

	ActiveWatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xbtclaw_payment_watches_active",
		Help: "Armed payment watches.",
	})

	MembershipChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbtclaw_membership_changes_total",
			Help: "Group mirror mutations by kind (added, removed, metadata, group_deleted).",
		},
		[]string{"kind"},
	)

	AnswerLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xbtclaw_answer_seconds",
		Help:    "Answer generation latency.",
		Buckets: prometheus.DefBuckets,
	})
)

var registerOnce sync.Once

// Register adds every collector to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			MessagesReceived,
			MessagesHandled,
			ActionsInvoked,
			PaymentResults,
			ActiveWatches,
			MembershipChanges,
			AnswerLatency,
		)
	})
}
