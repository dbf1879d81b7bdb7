// Package metrics exposes Prometheus collectors for the scraping service.
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
	scraperRunsTotal           *prometheus.CounterVec
	scraperURLsTotal           *prometheus.CounterVec
	scraperTasksTotal          *prometheus.CounterVec
	scraperEventsTotal         *prometheus.CounterVec
	scraperActiveWorkers       prometheus.Gauge
	scraperStreamSubscribers   prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		scraperRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total number of runs finished, labeled by final status.",
			},
			[]string{"status"},
		)

		scraperURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_urls_total",
				Help: "Total number of URLs scraped, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scraperTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_tasks_total",
				Help: "Total number of queue tasks executed, labeled by task and outcome.",
			},
			[]string{"task", "outcome"},
		)

		scraperEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_events_total",
				Help: "Total number of progress events delivered to SSE clients, labeled by type.",
			},
			[]string{"type"},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		scraperStreamSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_stream_subscribers",
				Help: "Number of connected SSE stream clients.",
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

// SanitizeSite reduces a URL to a lowercase hostname label. It returns
// "unknown" for unparseable input.
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

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the finished-run counter for the given final status.
func ObserveRun(status string) {
	scraperRunsTotal.WithLabelValues(status).Inc()
}

// ObserveURL increments the per-URL counter.
func ObserveURL(rawURL, outcome string) {
	scraperURLsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveTask increments the task counter for a queue task execution.
func ObserveTask(task, outcome string) {
	scraperTasksTotal.WithLabelValues(task, outcome).Inc()
}

// ObserveStreamEvent increments the per-type SSE event counter.
func ObserveStreamEvent(eventType string) {
	scraperEventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	scraperActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	scraperActiveWorkers.Dec()
}

// IncStreamSubscribers increments the connected SSE client gauge.
func IncStreamSubscribers() {
	scraperStreamSubscribers.Inc()
}

// DecStreamSubscribers decrements the connected SSE client gauge.
func DecStreamSubscribers() {
	scraperStreamSubscribers.Dec()
}
