package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/course-signup-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	populateRuns        *prometheus.CounterVec
	populateActivations *prometheus.CounterVec
	populateRejections  *prometheus.CounterVec
	populateAnomalies   *prometheus.CounterVec
	populateDuration    *prometheus.HistogramVec
	notifications       *prometheus.CounterVec
	waitingListChanges  prometheus.Counter
}

// NewMetricsService registers the collectors on a private registry.
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	populateRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "populate_runs_total",
		Help: "Populate engine runs by policy and result",
	}, []string{"policy", "result"})

	populateActivations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "populate_activations_total",
		Help: "Attendances moved from waiting to active",
	}, []string{"policy"})

	populateRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "populate_rejections_total",
		Help: "First-time rejections because the course was full",
	}, []string{"policy"})

	populateAnomalies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "populate_parallel_skips_total",
		Help: "Candidates skipped because a colliding course became active in the same run",
	}, []string{"policy"})

	populateDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "populate_run_duration_seconds",
		Help:    "Duration of populate engine runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"policy"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification deliveries by kind and result",
	}, []string{"kind", "result"})

	waitingListChanges := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "course_waiting_list_changes_total",
		Help: "Courses whose waiting list flag flipped",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		populateRuns, populateActivations, populateRejections, populateAnomalies, populateDuration,
		notifications, waitingListChanges, goroutines)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		cacheLatency:        cacheLatency,
		cacheWrite:          cacheWrite,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
		populateRuns:        populateRuns,
		populateActivations: populateActivations,
		populateRejections:  populateRejections,
		populateAnomalies:   populateAnomalies,
		populateDuration:    populateDuration,
		notifications:       notifications,
		waitingListChanges:  waitingListChanges,
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

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObservePopulateRun records the outcome of one engine run.
func (m *MetricsService) ObservePopulateRun(report *models.PopulateReport, err error) {
	if m == nil || report == nil {
		return
	}
	policy := string(report.Policy)
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.populateRuns.WithLabelValues(policy, result).Inc()
	m.populateDuration.WithLabelValues(policy).Observe(report.Duration.Seconds())
	if err != nil {
		return
	}
	m.populateActivations.WithLabelValues(policy).Add(float64(report.Activated + report.Restocked))
	m.populateRejections.WithLabelValues(policy).Add(float64(report.Rejected))
	m.populateAnomalies.WithLabelValues(policy).Add(float64(report.ParallelSkipped))
}

// ObserveNotification counts a delivery attempt outcome: sent, failed, dropped or rate_limited.
func (m *MetricsService) ObserveNotification(kind models.NotificationKind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(kind), result).Inc()
}

// ObserveWaitingListChanges counts flipped has_waiting_list flags.
func (m *MetricsService) ObserveWaitingListChanges(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.waitingListChanges.Add(float64(n))
}
