// Package metrics provides Prometheus metrics for the generation and export paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	GenerationsTotal   *prometheus.CounterVec
	SyncFanoutTotal    *prometheus.CounterVec
	ExportsTotal       *prometheus.CounterVec
	ConversionDuration *prometheus.HistogramVec
	ConversionCache    *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmerge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docmerge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.GenerationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmerge_generations_total",
			Help: "Documents generated from templates, by outcome",
		},
		[]string{"mode", "outcome"},
	)
	m.SyncFanoutTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmerge_sync_fanout_total",
			Help: "Dependent document updates performed by highlight synchronization",
		},
		[]string{"operation", "outcome"},
	)
	m.ExportsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmerge_exports_total",
			Help: "Document exports, by format and outcome",
		},
		[]string{"format", "outcome"},
	)
	m.ConversionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docmerge_conversion_duration_seconds",
			Help:    "Time spent in the markup to office document converter",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"format"},
	)
	m.ConversionCache = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmerge_conversion_cache_total",
			Help: "Conversion cache lookups, by result",
		},
		[]string{"result"},
	)
	m.NotificationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmerge_notifications_total",
			Help: "Document dispatch attempts, by outcome",
		},
		[]string{"outcome"},
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Generation(mode string, err error) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(mode, outcome(err)).Inc()
}

func (m *Metrics) Fanout(operation string, err error) {
	if m == nil {
		return
	}
	m.SyncFanoutTotal.WithLabelValues(operation, outcome(err)).Inc()
}

func (m *Metrics) Export(format string, err error) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(format, outcome(err)).Inc()
}

func (m *Metrics) Conversion(format string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ConversionDuration.WithLabelValues(format).Observe(elapsed.Seconds())
}

// CacheLookup counts conversion cache results: hit, miss or error.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.ConversionCache.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
