package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the placement
// API: HTTP request metrics plus the slot claim, release and clamp counters.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	slotClaims      *prometheus.CounterVec
	slotReleases    *prometheus.CounterVec
	releaseClamped  *prometheus.CounterVec
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

	slotClaims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slot_claims_total",
		Help: "Total capacity claims per slot kind",
	}, []string{"slot_kind"})

	slotReleases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slot_releases_total",
		Help: "Total capacity releases per slot kind",
	}, []string{"slot_kind"})

	releaseClamped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slot_release_clamped_total",
		Help: "Releases that hit the zero floor, indicating an accounting bug",
	}, []string{"slot_kind"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, slotClaims, slotReleases, releaseClamped, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		slotClaims:      slotClaims,
		slotReleases:    slotReleases,
		releaseClamped:  releaseClamped,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordClaim counts a successful capacity claim.
func (m *MetricsService) RecordClaim(slotKind string) {
	if m == nil {
		return
	}
	m.slotClaims.WithLabelValues(slotKind).Inc()
}

// RecordRelease counts a capacity release.
func (m *MetricsService) RecordRelease(slotKind string) {
	if m == nil {
		return
	}
	m.slotReleases.WithLabelValues(slotKind).Inc()
}

// RecordReleaseClamped counts a release that hit the zero floor.
func (m *MetricsService) RecordReleaseClamped(slotKind string) {
	if m == nil {
		return
	}
	m.releaseClamped.WithLabelValues(slotKind).Inc()
}
