package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gradekit/gradekit-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// grading pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	runDuration     prometheus.Histogram
	matchTotal      *prometheus.CounterVec
	gradeOutcomes   *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "grading_run_duration_seconds",
		Help:    "End-to-end duration of grading runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	matchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_match_total",
		Help: "Identity matches by resolving strategy, including no_match",
	}, []string{"strategy"})

	gradeOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grading_outcomes_total",
		Help: "Per-submission grading outcomes by final status",
	}, []string{"status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "extraction_cache_hits_total",
		Help: "Total extraction cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "extraction_cache_misses_total",
		Help: "Total extraction cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, runDuration, matchTotal, gradeOutcomes, cacheHits, cacheMisses, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		runDuration:     runDuration,
		matchTotal:      matchTotal,
		gradeOutcomes:   gradeOutcomes,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := []string{method, path, strconv.Itoa(status)}
	m.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveRun records a finished grading run.
func (m *MetricsService) ObserveRun(duration time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(duration.Seconds())
}

// ObserveMatch counts one identity-resolution attempt. An empty strategy is
// recorded as no_match.
func (m *MetricsService) ObserveMatch(strategy string) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "no_match"
	}
	m.matchTotal.WithLabelValues(strategy).Inc()
}

// ObserveGradingOutcome counts one submission outcome by final status.
func (m *MetricsService) ObserveGradingOutcome(status models.GradeStatus) {
	if m == nil {
		return
	}
	m.gradeOutcomes.WithLabelValues(string(status)).Inc()
}

// AddExtractionCacheStats folds one pipeline invocation's cache counters into
// the process totals.
func (m *MetricsService) AddExtractionCacheStats(hits, misses int64) {
	if m == nil {
		return
	}
	m.cacheHits.Add(float64(hits))
	m.cacheMisses.Add(float64(misses))
}
