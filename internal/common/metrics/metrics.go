// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_jobs_claimed_total",
			Help: "Total number of jobs claimed from the queue",
		},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"task_name"},
	)

	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"task_name", "error_code"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "queue_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_name"},
	)

	JobsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_jobs_reaped_total",
			Help: "Total number of expired-lease jobs reset to pending",
		},
	)

	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "Total number of webhook deliveries received",
		},
		[]string{"provider", "event_type"},
	)

	WebhooksDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_duplicate_total",
			Help: "Total number of webhook deliveries deduplicated",
		},
		[]string{"provider"},
	)

	WebhooksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_rejected_total",
			Help: "Total number of webhook deliveries rejected for a bad signature",
		},
		[]string{"provider"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of recovery notifications sent",
		},
		[]string{"channel", "status"},
	)

	AttemptsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recovery_attempts_created_total",
			Help: "Total number of recovery attempts created",
		},
	)

	AttemptsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recovery_attempts_completed_total",
			Help: "Total number of recovery attempts completed by a payment success",
		},
	)

	RetriesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_retries_executed_total",
			Help: "Total number of scheduled retry executions",
		},
		[]string{"outcome"},
	)
)
