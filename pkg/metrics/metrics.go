package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatches records dispatch requests by scope and result (ok|validation_error|store_error).
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_dispatches_total",
			Help: "Total number of notification dispatch requests",
		},
		[]string{"scope", "result"},
	)

	// PushSends counts per-subscription push attempts by transport and result (sent|failed|gone).
	PushSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_push_sends_total",
			Help: "Total number of per-subscription push send attempts",
		},
		[]string{"transport", "result"},
	)

	// SubscriptionsDeactivated counts subscriptions retired after a permanent transport rejection.
	SubscriptionsDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyd_subscriptions_deactivated_total",
			Help: "Subscriptions deactivated after a gone/not-found transport response",
		},
	)

	// CleanupDeleted counts rows purged by the retention service per category.
	CleanupDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_cleanup_deleted_total",
			Help: "Notifications removed by retention cleanup",
		},
		[]string{"category"},
	)

	// RealtimeSubscribers tracks live broker subscriptions per scope.
	RealtimeSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notifyd_realtime_subscribers",
			Help: "Number of active realtime channel subscriptions",
		},
		[]string{"scope"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyd_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
