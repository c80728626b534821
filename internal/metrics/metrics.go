// Package metrics registers the Prometheus collectors of the queue service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_transitions_total",
			Help: "Committed queue entry transitions by action",
		},
		[]string{"action"},
	)

	QueueRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_rejections_total",
			Help: "Queue operations rejected by the lifecycle engine, by operation and error kind",
		},
		[]string{"operation", "kind"},
	)

	StorageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_retries_total",
			Help: "Transient storage failures that were retried",
		},
		[]string{"operation"},
	)

	StorageBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_circuit_breaker_state",
			Help: "Storage circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Lifecycle events published to the bus, by scope",
		},
		[]string{"scope"},
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_publish_failures_total",
			Help: "Lifecycle events that could not be published, by scope",
		},
		[]string{"scope"},
	)

	Subscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_subscribers",
			Help: "Connected realtime subscribers by scope",
		},
		[]string{"scope"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_notifications_total",
			Help: "Push notifications handed to the delivery topic, by result",
		},
		[]string{"result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
