// Package metrics provides Prometheus metrics for the sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookDeliveries tracks webhook deliveries by vendor, event type and result
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmsync",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Total number of webhook deliveries by vendor, event type and result",
		},
		[]string{"vendor", "event", "result"},
	)

	// ReconcileOutcomes tracks reconciliation results by entity kind and action
	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmsync",
			Subsystem: "reconcile",
			Name:      "outcomes_total",
			Help:      "Total number of reconciled events by entity kind and action",
		},
		[]string{"kind", "action"},
	)

	// JobRuns tracks scheduled and manual job runs by result
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmsync",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total number of job runs by job and result",
		},
		[]string{"job", "result"},
	)

	// JobDuration tracks job run duration in seconds
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crmsync",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of job runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job"},
	)

	// RetentionDeleted tracks conversation records removed by retention cleanup
	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crmsync",
			Subsystem: "retention",
			Name:      "conversations_deleted_total",
			Help:      "Total number of resolved conversation records deleted by retention cleanup",
		},
	)

	// PublishFailures tracks outcome notifications that could not be published
	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crmsync",
			Subsystem: "notify",
			Name:      "publish_failures_total",
			Help:      "Total number of outcome notifications that failed to publish",
		},
	)
)
