package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Escalation scheduler metrics
	TickDuration          prometheus.Histogram
	TicksSkipped          prometheus.Counter
	DeadlinesEvaluated    prometheus.Counter
	NotificationsSent     *prometheus.CounterVec
	NotificationsFailed   *prometheus.CounterVec
	NotificationsDeferred prometheus.Counter
	DispatchRetries       *prometheus.CounterVec

	// Scheduling metrics
	ConflictChecks  *prometheus.CounterVec
	MovesCommitted  prometheus.Counter
	MovesRejected   *prometheus.CounterVec
	ExpansionLength prometheus.Histogram

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec
}

// New creates and registers all application metrics under the namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "escalation_tick_duration_seconds",
			Help:      "Time spent evaluating one escalation tick",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		TicksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_ticks_skipped_total",
			Help:      "Ticks skipped because the previous tick was still running",
		}),
		DeadlinesEvaluated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadlines_evaluated_total",
			Help:      "Open deadlines evaluated across all ticks",
		}),
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notifications dispatched successfully",
		}, []string{"channel", "tier"}),
		NotificationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Notification channels that exhausted their retries",
		}, []string{"channel", "tier"}),
		NotificationsDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_deferred_total",
			Help:      "Notifications deferred by quiet hours",
		}),
		DispatchRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_retry_attempts_total",
			Help:      "Retry attempts per notification channel",
		}, []string{"channel"}),
		ConflictChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_checks_total",
			Help:      "Conflict index probes by outcome",
		}, []string{"outcome"}),
		MovesCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_moves_committed_total",
			Help:      "Reschedule moves committed",
		}),
		MovesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_moves_rejected_total",
			Help:      "Reschedule moves rejected by reason",
		}, []string{"reason"}),
		ExpansionLength: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recurrence_expansion_occurrences",
			Help:      "Occurrences produced per expansion",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
	}
}

// NewForTesting builds the same metric set without registering it, so tests
// can construct multiple schedulers in one process.
func NewForTesting(namespace string) *Metrics {
	return &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "escalation_tick_duration_seconds",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "escalation_ticks_skipped_total",
		}),
		DeadlinesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deadlines_evaluated_total",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_sent_total",
		}, []string{"channel", "tier"}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_failed_total",
		}, []string{"channel", "tier"}),
		NotificationsDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_deferred_total",
		}),
		DispatchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_retry_attempts_total",
		}, []string{"channel"}),
		ConflictChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "conflict_checks_total",
		}, []string{"outcome"}),
		MovesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "appointment_moves_committed_total",
		}),
		MovesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "appointment_moves_rejected_total",
		}, []string{"reason"}),
		ExpansionLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "recurrence_expansion_occurrences",
		}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "database_operations_total",
		}, []string{"operation", "status"}),
		DatabaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "database_operation_duration_seconds",
		}, []string{"operation"}),
	}
}
