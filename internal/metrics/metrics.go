// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/adaptive-crawler/internal/executor"
	"github.com/JakeFAU/adaptive-crawler/internal/throttle"
)

var (
	requestsTotal         *prometheus.CounterVec
	recordsTotal          prometheus.Counter
	batchesTotal          prometheus.Counter
	requestLatencySeconds prometheus.Histogram
	batchDurationSeconds  prometheus.Histogram
	sessionRate           prometheus.Gauge
	sessionConcurrency    prometheus.Gauge
	sessionDelaySeconds   prometheus.Gauge
	breakerState          *prometheus.GaugeVec
	throttleStage         *prometheus.GaugeVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple
// times.
func Init() {
	once.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_requests_total",
				Help: "Total request outcomes, labeled by class.",
			},
			[]string{"class"},
		)

		recordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Total records extracted from response payloads.",
			},
		)

		batchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_batches_total",
				Help: "Total batches dispatched.",
			},
		)

		requestLatencySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_request_latency_seconds",
				Help:    "Histogram of successful request latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		batchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_batch_duration_seconds",
				Help:    "Histogram of batch wall-clock durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		sessionRate = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_session_rate",
				Help: "Current target request rate in requests per second.",
			},
		)

		sessionConcurrency = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_session_concurrency",
				Help: "Current target in-flight request count.",
			},
		)

		sessionDelaySeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_session_delay_seconds",
				Help: "Current inter-batch delay in seconds.",
			},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_breaker_state",
				Help: "Circuit breaker state, 1 for the active state.",
			},
			[]string{"state"},
		)

		throttleStage = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_throttle_stage",
				Help: "Throttle adapter stage, 1 for the active stage.",
			},
			[]string{"stage"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBatch records one batch summary.
func ObserveBatch(summary executor.Summary) {
	if requestsTotal == nil {
		return
	}
	batchesTotal.Inc()
	batchDurationSeconds.Observe(summary.Duration.Seconds())
	requestsTotal.WithLabelValues("success").Add(float64(summary.Responses))
	requestsTotal.WithLabelValues("redirect").Add(float64(summary.Redirects))
	requestsTotal.WithLabelValues("client_error").Add(float64(summary.ClientErrors))
	requestsTotal.WithLabelValues("not_found").Add(float64(summary.NotFound))
	requestsTotal.WithLabelValues("server_error").Add(float64(summary.ServerErrors))
	requestsTotal.WithLabelValues("transport_error").Add(float64(summary.TransportErrors))
	for _, latency := range summary.Latencies {
		requestLatencySeconds.Observe(latency)
	}
}

// ObserveRecords counts extracted records.
func ObserveRecords(n int) {
	if recordsTotal == nil || n <= 0 {
		return
	}
	recordsTotal.Add(float64(n))
}

// SetSessionControl publishes the control values applied to the next
// batch.
func SetSessionControl(control throttle.SessionControl) {
	if sessionRate == nil {
		return
	}
	sessionRate.Set(control.Rate)
	sessionConcurrency.Set(control.Concurrency)
	sessionDelaySeconds.Set(control.Delay)
}

var breakerStates = []string{"closed", "open", "half_open", "terminated", "complete"}

// SetBreakerState marks the active breaker state.
func SetBreakerState(state string) {
	if breakerState == nil {
		return
	}
	for _, s := range breakerStates {
		value := 0.0
		if s == state {
			value = 1
		}
		breakerState.WithLabelValues(s).Set(value)
	}
}

var stages = []string{"baseline", "rate_explore", "concurrency_explore", "exploit"}

// SetStage marks the active throttle stage.
func SetStage(stage string) {
	if throttleStage == nil {
		return
	}
	for _, s := range stages {
		value := 0.0
		if s == stage {
			value = 1
		}
		throttleStage.WithLabelValues(s).Set(value)
	}
}
