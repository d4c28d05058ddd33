// Package metrics provides Prometheus metrics for the MEF pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsTotal tracks lifecycle actions per source record
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mef",
			Subsystem: "records",
			Name:      "actions_total",
			Help:      "Total number of source record lifecycle actions",
		},
		[]string{"source", "kind", "action"},
	)

	// RecordErrorsTotal tracks records that failed, by error code
	RecordErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mef",
			Subsystem: "records",
			Name:      "errors_total",
			Help:      "Total number of records that failed processing",
		},
		[]string{"source", "kind", "code"},
	)

	// ClusterChangesTotal tracks cluster changes by type
	ClusterChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mef",
			Subsystem: "clusters",
			Name:      "changes_total",
			Help:      "Total number of MEF cluster changes",
		},
		[]string{"kind", "type"},
	)

	// HarvestWindowsTotal tracks harvest windows by status
	HarvestWindowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mef",
			Subsystem: "harvest",
			Name:      "windows_total",
			Help:      "Total number of harvest windows by status",
		},
		[]string{"source", "kind", "status"},
	)

	// HarvestWindowDuration tracks harvest window duration in seconds
	HarvestWindowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mef",
			Subsystem: "harvest",
			Name:      "window_duration_seconds",
			Help:      "Duration of harvest windows in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"source", "kind"},
	)

	// OAIRequestsTotal tracks outbound OAI-PMH requests
	OAIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mef",
			Subsystem: "oai",
			Name:      "requests_total",
			Help:      "Total number of outbound OAI-PMH requests",
		},
		[]string{"source", "status_code"},
	)

	// OAIRequestDuration tracks outbound OAI-PMH request duration
	OAIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mef",
			Subsystem: "oai",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound OAI-PMH requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	// ViafDeltasTotal tracks applied VIAF deltas
	ViafDeltasTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mef",
			Subsystem: "viaf",
			Name:      "deltas_total",
			Help:      "Total number of VIAF deltas applied",
		},
		[]string{"action"},
	)

	// QueueJobsProcessed tracks window jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mef",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of window jobs processed from the queue",
		},
		[]string{"status"},
	)

	// QueueJobsInFlight tracks jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mef",
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of window jobs currently being processed",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mef",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordAction records one lifecycle action
func RecordAction(source, kind, action string) {
	RecordsTotal.WithLabelValues(source, kind, action).Inc()
}

// RecordError records one failed record
func RecordError(source, kind, code string) {
	RecordErrorsTotal.WithLabelValues(source, kind, code).Inc()
}

// RecordClusterChange records one cluster change
func RecordClusterChange(kind, changeType string) {
	ClusterChangesTotal.WithLabelValues(kind, changeType).Inc()
}

// RecordHarvestWindow records a finished harvest window
func RecordHarvestWindow(source, kind, status string, durationSeconds float64) {
	HarvestWindowsTotal.WithLabelValues(source, kind, status).Inc()
	HarvestWindowDuration.WithLabelValues(source, kind).Observe(durationSeconds)
}

// RecordOAIRequest records an outbound OAI-PMH request
func RecordOAIRequest(source, statusCode string, durationSeconds float64) {
	OAIRequestsTotal.WithLabelValues(source, statusCode).Inc()
	OAIRequestDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordQueueJob records a queue job processing metric
func RecordQueueJob(status string) {
	QueueJobsProcessed.WithLabelValues(status).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

// RecordViafDelta records one applied VIAF row or delta
func RecordViafDelta(action string) {
	ViafDeltasTotal.WithLabelValues(action).Inc()
}
