// Package metrics exposes Prometheus collectors for the crawler stages.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	listPagesTotal             *prometheus.CounterVec
	recordActionsTotal         *prometheus.CounterVec
	stageItemsTotal            *prometheus.CounterVec
	targetOutcomesTotal        *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regcrawl_fetch_attempts_total",
				Help: "HTTP retrieval attempts, labeled by result.",
			},
			[]string{"result"},
		)

		listPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regcrawl_list_pages_total",
				Help: "List pages walked, labeled by target and result.",
			},
			[]string{"target", "result"},
		)

		recordActionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regcrawl_record_actions_total",
				Help: "Reconciliation decisions for listed records, labeled by action.",
			},
			[]string{"action"},
		)

		stageItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regcrawl_stage_items_total",
				Help: "Work items processed by a stage, labeled by stage and result.",
			},
			[]string{"stage", "result"},
		)

		targetOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regcrawl_target_outcomes_total",
				Help: "List target outcomes reported to monitoring, labeled by state.",
			},
			[]string{"state"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regcrawl_stage_duration_seconds",
				Help:    "Wall time of a stage run.",
				Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"stage"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regcrawl_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-host request slot.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
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
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one retrieval attempt.
func ObserveFetchAttempt(result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveListPage counts one list page for target.
func ObserveListPage(target, result string) {
	Init()
	listPagesTotal.WithLabelValues(target, result).Inc()
}

// ObserveRecordAction counts a reconciliation decision (inserted, updated, unchanged, skipped).
func ObserveRecordAction(action string) {
	Init()
	recordActionsTotal.WithLabelValues(action).Inc()
}

// ObserveStageItem counts one processed item.
func ObserveStageItem(stage, result string) {
	Init()
	stageItemsTotal.WithLabelValues(stage, result).Inc()
}

// ObserveTargetOutcome counts a monitoring outcome.
func ObserveTargetOutcome(state string) {
	Init()
	targetOutcomesTotal.WithLabelValues(state).Inc()
}

// ObserveStageDuration records a finished stage run.
func ObserveStageDuration(stage string, d time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRateLimitDelay records a wait imposed by the per-host limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics of the ops endpoint.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the default registry to a Pushgateway. Batch runs exit before a
// scraper would see them, so this is how their counters survive.
func Push(ctx context.Context, gatewayURL, job string, grouping map[string]string) error {
	pusher := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
