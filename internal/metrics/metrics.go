// Package metrics exposes Prometheus collectors for the govwatch service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchFallbackTotal         *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	sourceRunsTotal            *prometheus.CounterVec
	sourceRunDurationSeconds   *prometheus.HistogramVec
	alertsTotal                *prometheus.CounterVec
	purgedAlertsTotal          *prometheus.CounterVec
	automationFailuresTotal    *prometheus.CounterVec
	activeRuns                 prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_fetch_total",
				Help: "Fetch attempts labeled by site, client mode and outcome.",
			},
			[]string{"site", "client", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_fetch_fallback_total",
				Help: "Standard fetch failures that fell back to the legacy TLS client.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "govwatch_rate_limit_delays_seconds",
				Help:    "Histogram of per-host politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

		sourceRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_source_runs_total",
				Help: "Source jobs labeled by source and result (success, failure, skipped).",
			},
			[]string{"source", "result"},
		)

		sourceRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "govwatch_source_run_duration_seconds",
				Help:    "Wall time per executed source job.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"source"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_alerts_total",
				Help: "Alerts labeled by source and stage (found, distributed).",
			},
			[]string{"source", "stage"},
		)

		purgedAlertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_purged_alerts_total",
				Help: "Read alerts deleted by retention purges.",
			},
			[]string{"source"},
		)

		automationFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govwatch_automation_failures_total",
				Help: "Browser automation failures labeled by state machine step.",
			},
			[]string{"step"},
		)

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "govwatch_active_runs",
				Help: "Number of orchestrations currently executing.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one client attempt.
func ObserveFetch(rawURL, client, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchTotal.WithLabelValues(site, client, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveFallback records a standard-to-legacy client fallback.
func ObserveFallback(rawURL string) {
	Init()
	fetchFallbackTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSourceRun records a finished source job. Skipped jobs carry no duration.
func ObserveSourceRun(source, result string, duration time.Duration) {
	Init()
	sourceRunsTotal.WithLabelValues(source, result).Inc()
	if result != "skipped" {
		sourceRunDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// ObserveAlerts adds n alerts at the given stage.
func ObserveAlerts(source, stage string, n int) {
	Init()
	if n > 0 {
		alertsTotal.WithLabelValues(source, stage).Add(float64(n))
	}
}

// ObservePurge adds deleted alerts for source.
func ObservePurge(source string, deleted int64) {
	Init()
	if deleted > 0 {
		purgedAlertsTotal.WithLabelValues(source).Add(float64(deleted))
	}
}

// ObserveAutomationFailure counts a failed browser step.
func ObserveAutomationFailure(step string) {
	Init()
	automationFailuresTotal.WithLabelValues(step).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	activeRuns.Dec()
}
