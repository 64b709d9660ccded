// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestJobsTotal            *prometheus.CounterVec
	ingestFetchErrorsTotal     *prometheus.CounterVec
	ingestCooldownsTotal       prometheus.Counter
	ingestReapedTotal          *prometheus.CounterVec
	ingestRateWaitSeconds      prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		ingestJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_total",
				Help: "Total number of jobs finalized, labeled by terminal status.",
			},
			[]string{"status"},
		)

		ingestFetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_errors_total",
				Help: "Total typed fetch failures, labeled by kind.",
			},
			[]string{"kind"},
		)

		ingestCooldownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_cooldowns_total",
				Help: "Total pipeline cooldowns triggered by consecutive archive failures.",
			},
		)

		ingestReapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_reaped_total",
				Help: "Total jobs touched by the reaper, labeled by action.",
			},
			[]string{"action"},
		)

		ingestRateWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_wait_seconds",
				Help:    "Histogram of time spent waiting for an archive fetch slot.",
				Buckets: []float64{1, 5, 10, 20, 45, 90, 180, 600},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the finalized-job counter for a terminal status.
func ObserveJob(status string) {
	if ingestJobsTotal == nil {
		return
	}
	ingestJobsTotal.WithLabelValues(status).Inc()
}

// ObserveFetchError increments the typed fetch failure counter.
func ObserveFetchError(kind string) {
	if ingestFetchErrorsTotal == nil {
		return
	}
	ingestFetchErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveCooldown counts one pipeline cooldown.
func ObserveCooldown() {
	if ingestCooldownsTotal == nil {
		return
	}
	ingestCooldownsTotal.Inc()
}

// ObserveReaped counts a reaper action ("expired" or "deleted").
func ObserveReaped(action string) {
	if ingestReapedTotal == nil {
		return
	}
	ingestReapedTotal.WithLabelValues(action).Inc()
}

// ObserveRateWait records time spent waiting on the archive rate budget.
func ObserveRateWait(d time.Duration) {
	if ingestRateWaitSeconds == nil {
		return
	}
	ingestRateWaitSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
