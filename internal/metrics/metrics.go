// Package metrics exposes Prometheus collectors for the crawler service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	browserLaunchesTotal       *prometheus.CounterVec
	navigationAttemptsTotal    *prometheus.CounterVec
	challengesTotal            *prometheus.CounterVec
	pagesTotal                 *prometheus.CounterVec
	listingsTotal              *prometheus.CounterVec
	extractSkippedTotal        *prometheus.CounterVec
	enrichRequestsTotal        *prometheus.CounterVec
	structuredDataErrorsTotal  prometheus.Counter
	searchesTotal              *prometheus.CounterVec
	searchDurationSeconds      *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	rateLimitRejectionsTotal   prometheus.Counter
	apiRequestsTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"method", "route"},
		)

		browserLaunchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olx_browser_launches_total",
				Help: "Headless browser launches, labeled by result.",
			},
			[]string{"result"},
		)

		navigationAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olx_navigation_attempts_total",
				Help: "Page navigation attempts, labeled by result.",
			},
			[]string{"result"},
		)

		challengesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olx_challenges_total",
				Help: "Anti-bot challenges detected, labeled by kind.",
			},
			[]string{"kind"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olx_pages_total",
				Help: "Result pages processed, labeled by status.",
			},
			[]string{"status"},
		)

		listingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olx_listings_total",
				Help: "Listings seen per pipeline stage.",
			},
			[]string{"stage"},
		)

		extractSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olx_extract_skipped_total",
				Help: "Result cards skipped or degraded during extraction, labeled by reason.",
			},
			[]string{"reason"},
		)

		enrichRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olx_enrich_requests_total",
				Help: "Detail page fetches, labeled by status.",
			},
			[]string{"status"},
		)

		structuredDataErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "olx_structured_data_errors_total",
				Help: "Malformed JSON-LD blocks skipped on detail pages.",
			},
		)

		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olx_searches_total",
				Help: "Searches served, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		searchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "olx_search_duration_seconds",
				Help:    "Histogram of search latencies, labeled by source.",
				Buckets: []float64{0.01, 0.1, 1, 5, 10, 20, 30, 60, 120},
			},
			[]string{"source"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olx_cache_lookups_total",
				Help: "Result cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "olx_rate_limit_rejections_total",
				Help: "Search requests rejected by the per-client rate limiter.",
			},
		)

		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olx_api_requests_total",
				Help: "Offer API page requests, labeled by status.",
			},
			[]string{"status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveBrowserLaunch records a browser launch outcome ("ok" or "error").
func ObserveBrowserLaunch(result string) {
	Init()
	browserLaunchesTotal.WithLabelValues(result).Inc()
}

// ObserveNavigation records one navigation attempt.
func ObserveNavigation(result string) {
	Init()
	navigationAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveChallenge records a detected anti-bot challenge.
func ObserveChallenge(kind string) {
	Init()
	challengesTotal.WithLabelValues(kind).Inc()
}

// ObservePage records the outcome of one results page.
func ObservePage(status string) {
	Init()
	pagesTotal.WithLabelValues(status).Inc()
}

// ObserveListings adds n listings to a pipeline stage counter.
func ObserveListings(stage string, n int) {
	Init()
	if n > 0 {
		listingsTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveExtractSkipped adds n skipped cards for a reason.
func ObserveExtractSkipped(reason string, n int) {
	Init()
	if n > 0 {
		extractSkippedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// ObserveEnrichRequest records one detail page fetch.
func ObserveEnrichRequest(status string) {
	Init()
	enrichRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveStructuredDataError records a malformed JSON-LD block.
func ObserveStructuredDataError() {
	Init()
	structuredDataErrorsTotal.Inc()
}

// ObserveSearch records a completed search.
func ObserveSearch(source, status string, duration time.Duration) {
	Init()
	searchesTotal.WithLabelValues(source, status).Inc()
	searchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveCacheLookup records a cache hit, miss or error.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitRejection records a request rejected by the rate limiter.
func ObserveRateLimitRejection() {
	Init()
	rateLimitRejectionsTotal.Inc()
}

// ObserveAPIRequest records one offer API page request.
func ObserveAPIRequest(status string) {
	Init()
	apiRequestsTotal.WithLabelValues(status).Inc()
}
