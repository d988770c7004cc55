// Package metrics exposes Prometheus collectors for the ETL service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsProcessedTotal *prometheus.CounterVec
	documentsFilteredTotal  *prometheus.CounterVec
	fetchTotal              *prometheus.CounterVec
	enrichFailuresTotal     prometheus.Counter
	runDurationSeconds      *prometheus.HistogramVec
	schedulerRunsTotal      *prometheus.CounterVec
	schedulerMisfiresTotal  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		documentsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_documents_processed_total",
				Help: "Documents fully processed through to the enriched layer, by source.",
			},
			[]string{"source"},
		)

		documentsFilteredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_documents_filtered_total",
				Help: "Documents rejected by the cleaning stage, by reason.",
			},
			[]string{"reason"},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_fetch_total",
				Help: "Page and feed fetch outcomes, by source and status.",
			},
			[]string{"source", "status"},
		)

		enrichFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "etl_enrich_failures_total",
				Help: "Items whose enrichment failed terminally.",
			},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etl_run_duration_seconds",
				Help:    "Duration of one pipeline run, by source.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"source"},
		)

		schedulerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_scheduler_runs_total",
				Help: "Scheduled job executions, by job id.",
			},
			[]string{"job"},
		)

		schedulerMisfiresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_scheduler_misfires_total",
				Help: "Scheduled job ticks skipped because a run was in flight or past grace.",
			},
			[]string{"job"},
		)
	})
}

// ObserveProcessed increments the processed-document counter for source.
func ObserveProcessed(source string) {
	if documentsProcessedTotal == nil {
		return
	}
	documentsProcessedTotal.WithLabelValues(source).Inc()
}

// ObserveFiltered increments the filtered-document counter for reason.
func ObserveFiltered(reason string) {
	if documentsFilteredTotal == nil {
		return
	}
	documentsFilteredTotal.WithLabelValues(reason).Inc()
}

// ObserveFetch increments the fetch counter for source and status.
func ObserveFetch(source, status string) {
	if fetchTotal == nil {
		return
	}
	fetchTotal.WithLabelValues(source, status).Inc()
}

// ObserveEnrichFailure increments the terminal enrichment failure counter.
func ObserveEnrichFailure() {
	if enrichFailuresTotal == nil {
		return
	}
	enrichFailuresTotal.Inc()
}

// ObserveRunDuration records one pipeline run duration for source.
func ObserveRunDuration(source string, seconds float64) {
	if runDurationSeconds == nil {
		return
	}
	runDurationSeconds.WithLabelValues(source).Observe(seconds)
}

// ObserveSchedulerRun increments the run counter for job.
func ObserveSchedulerRun(job string) {
	if schedulerRunsTotal == nil {
		return
	}
	schedulerRunsTotal.WithLabelValues(job).Inc()
}

// ObserveSchedulerMisfire increments the misfire counter for job.
func ObserveSchedulerMisfire(job string) {
	if schedulerMisfiresTotal == nil {
		return
	}
	schedulerMisfiresTotal.WithLabelValues(job).Inc()
}
