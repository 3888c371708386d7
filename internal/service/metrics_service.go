package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry for HTTP and identity-resolution metrics.
// All methods are safe on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	classifications *prometheus.CounterVec
	merges          *prometheus.CounterVec
	taskActions     *prometheus.CounterVec
	allocations     prometheus.Counter
	rangeRemaining  prometheus.Gauge
	eventsPublished *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	autoMatches          uint64
	tasksOpened          uint64
	rangeRemainingValue  int64
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

	classifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_classifications_total",
		Help: "Assertions classified, by outcome and channel",
	}, []string{"outcome", "channel"})

	merges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_merges_total",
		Help: "Person merges by result",
	}, []string{"result"})

	taskActions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_resolution_tasks_total",
		Help: "Resolution task lifecycle actions",
	}, []string{"action"})

	allocations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trn_allocations_total",
		Help: "TRNs handed out by the identifier allocator",
	})

	rangeRemaining := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trn_range_remaining",
		Help: "Numbers left across identifier ranges",
	})

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Person events pushed to the stream by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, classifications, merges, taskActions,
		allocations, rangeRemaining, eventsPublished, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		classifications: classifications,
		merges:          merges,
		taskActions:     taskActions,
		allocations:     allocations,
		rangeRemaining:  rangeRemaining,
		eventsPublished: eventsPublished,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordClassification counts one classified assertion.
func (m *MetricsService) RecordClassification(outcome, channel string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(outcome, channel).Inc()
	if outcome == "AutoMatch" {
		atomic.AddUint64(&m.autoMatches, 1)
	}
}

// RecordMerge counts a merge attempt by result (merged, replayed, failed).
func (m *MetricsService) RecordMerge(result string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(result).Inc()
}

// RecordTaskAction counts task lifecycle actions (created, refreshed, CreateNew, MergeInto, Reject).
func (m *MetricsService) RecordTaskAction(action string) {
	if m == nil {
		return
	}
	m.taskActions.WithLabelValues(action).Inc()
	if action == "created" {
		atomic.AddUint64(&m.tasksOpened, 1)
	}
}

// RecordTrnAllocation counts an allocation and updates the remaining gauge.
func (m *MetricsService) RecordTrnAllocation(remaining int64) {
	if m == nil {
		return
	}
	m.allocations.Inc()
	m.SetTrnRangeRemaining(remaining)
}

// SetTrnRangeRemaining sets the remaining-numbers gauge.
func (m *MetricsService) SetTrnRangeRemaining(remaining int64) {
	if m == nil {
		return
	}
	m.rangeRemaining.Set(float64(remaining))
	atomic.StoreInt64(&m.rangeRemainingValue, remaining)
}

// RecordEventPublish counts a stream publish attempt.
func (m *MetricsService) RecordEventPublish(result string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(result).Inc()
}

// MetricsSnapshot is a lightweight view for the health endpoint.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	AutoMatches              uint64    `json:"autoMatches"`
	TasksOpened              uint64    `json:"tasksOpened"`
	TrnRangeRemaining        int64     `json:"trnRangeRemaining"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		AutoMatches:              atomic.LoadUint64(&m.autoMatches),
		TasksOpened:              atomic.LoadUint64(&m.tasksOpened),
		TrnRangeRemaining:        atomic.LoadInt64(&m.rangeRemainingValue),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
