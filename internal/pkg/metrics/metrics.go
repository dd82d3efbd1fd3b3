// Package metrics exposes the sync engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hotspotsync",
			Name:      "sync_operations_total",
			Help:      "Provider sync operations by kind and result.",
		},
		[]string{"kind", "result"},
	)

	failuresRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hotspotsync",
			Name:      "sync_failures_recorded_total",
			Help:      "Sync failures written to the retry ledger.",
		},
		[]string{"kind", "provider", "class"},
	)

	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hotspotsync",
			Name:      "sync_retries_total",
			Help:      "Retry attempts by outcome.",
		},
		[]string{"outcome"},
	)

	disconnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hotspotsync",
			Name:      "disconnections_total",
			Help:      "Forced disconnections by reason.",
		},
		[]string{"reason"},
	)

	usageAnomalies = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hotspotsync",
		Name:      "usage_anomalies_total",
		Help:      "Accounting totals observed going backwards.",
	})

	verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hotspotsync",
			Name:      "verifications_total",
			Help:      "Session verification results by status.",
		},
		[]string{"status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hotspotsync",
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	registerOnce sync.Once
)

// Init registers every collector with the default registry
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(syncOperations, failuresRecorded, retries, disconnections, usageAnomalies, verifications, jobDuration)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveSync(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	syncOperations.WithLabelValues(kind, result).Inc()
}

func ObserveFailureRecorded(kind, provider, class string) {
	failuresRecorded.WithLabelValues(kind, provider, class).Inc()
}

func ObserveRetry(outcome string) {
	retries.WithLabelValues(outcome).Inc()
}

func ObserveDisconnection(reason string) {
	disconnections.WithLabelValues(reason).Inc()
}

func ObserveAnomaly() {
	usageAnomalies.Inc()
}

func ObserveVerification(status string) {
	verifications.WithLabelValues(status).Inc()
}

func ObserveJob(job string, d time.Duration) {
	jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
