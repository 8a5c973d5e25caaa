// Package metrics exposes Prometheus collectors for the channel crawler.
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
	fetchTotal             *prometheus.CounterVec
	channelsTotal          *prometheus.CounterVec
	postsIngestedTotal     prometheus.Counter
	extractionErrorsTotal  *prometheus.CounterVec
	brokerDeliveriesTotal  *prometheus.CounterVec
	proxyPoolSize          prometheus.Gauge
	cycleDurationSeconds   prometheus.Histogram
	rateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channelcrawler_fetch_total",
				Help: "Channel page fetches, labeled by outcome classification.",
			},
			[]string{"outcome"},
		)

		channelsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channelcrawler_channels_total",
				Help: "Channels processed per cycle, labeled by status.",
			},
			[]string{"status"},
		)

		postsIngestedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "channelcrawler_posts_ingested_total",
				Help: "New posts durably stored.",
			},
		)

		extractionErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channelcrawler_extraction_errors_total",
				Help: "Records that could not be extracted, labeled by record kind.",
			},
			[]string{"kind"},
		)

		brokerDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channelcrawler_broker_deliveries_total",
				Help: "Broker delivery reports, labeled by result.",
			},
			[]string{"result"},
		)

		proxyPoolSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "channelcrawler_proxy_pool_size",
				Help: "Validated proxies in the pool after the last refresh.",
			},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "channelcrawler_cycle_duration_seconds",
				Help:    "Duration of full crawl cycles.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "channelcrawler_rate_limit_delays_seconds",
				Help:    "Histogram of throttling wait durations, labeled by source.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channelcrawler_http_requests_total",
				Help: "Requests served by the ops endpoint, labeled by route and status code.",
			},
			[]string{"method", "route", "code"},
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

// ObserveFetch counts one channel page fetch outcome.
func ObserveFetch(outcome string) {
	Init()
	fetchTotal.WithLabelValues(outcome).Inc()
}

// ObserveChannel counts one processed channel.
func ObserveChannel(succeeded bool) {
	Init()
	status := "failed"
	if succeeded {
		status = "succeeded"
	}
	channelsTotal.WithLabelValues(status).Inc()
}

// AddPostsIngested adds n stored posts.
func AddPostsIngested(n int) {
	Init()
	if n > 0 {
		postsIngestedTotal.Add(float64(n))
	}
}

// ObserveExtractionError counts one failed record extraction.
func ObserveExtractionError(kind string) {
	Init()
	extractionErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveDelivery counts one broker delivery report.
func ObserveDelivery(success bool) {
	Init()
	result := "failure"
	if success {
		result = "success"
	}
	brokerDeliveriesTotal.WithLabelValues(result).Inc()
}

// SetProxyPoolSize records the pool size after a refresh.
func SetProxyPoolSize(n int) {
	Init()
	proxyPoolSize.Set(float64(n))
}

// ObserveCycle records the duration of a full crawl cycle.
func ObserveCycle(duration time.Duration) {
	Init()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a throttling wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveHTTPRequest counts one request served by the ops endpoint.
func ObserveHTTPRequest(method, route string, code int) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
