package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// WebhookRequestsTotal counts inbound webhook calls by gate decision.
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_intake_webhook_requests_total",
			Help: "Total number of inbound webhook requests, labeled by provider, decision, and rejection reason.",
		},
		[]string{"provider", "decision", "reason"},
	)

	// IntakeOutcomesTotal counts ingestion results across both paths.
	IntakeOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_intake_intake_outcomes_total",
			Help: "Total number of ingestion outcomes (created, duplicate, invalid), labeled by source.",
		},
		[]string{"source", "outcome"},
	)

	// ExtractionCallsTotal counts extraction gateway calls by status.
	ExtractionCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_intake_extraction_calls_total",
			Help: "Total number of extraction gateway calls, labeled by status (success, error).",
		},
		[]string{"status"},
	)

	// ExtractionDurationSeconds measures extraction gateway call latency.
	ExtractionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "publisher_intake_extraction_duration_seconds",
			Help:    "Histogram of extraction gateway call durations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
	)

	// ShadowCreationsTotal counts shadow record sets materialized by the
	// confidence gate.
	ShadowCreationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_intake_shadow_creations_total",
			Help: "Total number of shadow creation attempts, labeled by outcome (created, below_threshold, failed).",
		},
		[]string{"outcome"},
	)

	// PollProspectsTotal counts per-prospect poll outcomes.
	PollProspectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_intake_poll_prospects_total",
			Help: "Total number of prospects considered by the poller, labeled by campaign and outcome (processed, skipped, error).",
		},
		[]string{"campaign_id", "outcome"},
	)

	// PollerRunning is 1 while a poll run is in flight.
	PollerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "publisher_intake_poller_running",
			Help: "Whether a poller run is currently in flight (0 or 1).",
		},
	)

	// MigrationItemsTotal counts per-shadow-row migration outcomes.
	MigrationItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_intake_migration_items_total",
			Help: "Total number of shadow relationships processed by the migration engine, labeled by outcome (migrated, skipped, failed).",
		},
		[]string{"outcome"},
	)

	// MigrationDurationSeconds measures whole-publisher migration latency.
	MigrationDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "publisher_intake_migration_duration_seconds",
			Help:    "Histogram of per-publisher migration durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)

	// DbOperationDurationSeconds measures repository operation latency.
	DbOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "publisher_intake_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations, labeled by operation, table, and error flag.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"operation", "table", "error"},
	)

	// EventsPublishedTotal counts domain events handed to NATS.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_intake_events_published_total",
			Help: "Total number of domain events published, labeled by subject and status.",
		},
		[]string{"subject", "status"},
	)
)

// InitMetrics toggles metric collection. Called once at startup.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncWebhookRequest records one webhook gate decision.
func IncWebhookRequest(provider, decision, reason string) {
	if !metricsEnabled {
		return
	}
	if reason == "" {
		reason = "none"
	}
	WebhookRequestsTotal.WithLabelValues(provider, decision, reason).Inc()
}

// IncIntakeOutcome records one ingestion outcome.
func IncIntakeOutcome(source, outcome string) {
	if !metricsEnabled {
		return
	}
	IntakeOutcomesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveExtractionCall records one extraction gateway call.
func ObserveExtractionCall(duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	ExtractionCallsTotal.WithLabelValues(status).Inc()
	ExtractionDurationSeconds.Observe(duration.Seconds())
}

// IncShadowCreation records one confidence-gate outcome.
func IncShadowCreation(outcome string) {
	if !metricsEnabled {
		return
	}
	ShadowCreationsTotal.WithLabelValues(outcome).Inc()
}

// IncPollProspect records one per-prospect poll outcome.
func IncPollProspect(campaignID, outcome string) {
	if !metricsEnabled {
		return
	}
	PollProspectsTotal.WithLabelValues(campaignID, outcome).Inc()
}

// SetPollerRunning flips the poller in-flight gauge.
func SetPollerRunning(running bool) {
	if !metricsEnabled {
		return
	}
	if running {
		PollerRunning.Set(1)
	} else {
		PollerRunning.Set(0)
	}
}

// IncMigrationItem records one per-shadow-row migration outcome.
func IncMigrationItem(outcome string) {
	if !metricsEnabled {
		return
	}
	MigrationItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveMigrationDuration records one whole-publisher migration.
func ObserveMigrationDuration(duration time.Duration) {
	if !metricsEnabled {
		return
	}
	MigrationDurationSeconds.Observe(duration.Seconds())
}

// ObserveDbOperationDuration records one repository operation.
func ObserveDbOperationDuration(operation, table string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	errLabel := "false"
	if err != nil {
		errLabel = "true"
	}
	DbOperationDurationSeconds.WithLabelValues(operation, table, errLabel).Observe(duration.Seconds())
}

// IncEventPublished records one domain-event publish attempt.
func IncEventPublished(subject string, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	EventsPublishedTotal.WithLabelValues(subject, status).Inc()
}
