// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry        *prometheus.Registry
	backendRequests *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	cacheEvents     *prometheus.CounterVec
	invalidated     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	panics          *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "backend_requests_total",
			Help:      "Requests sent to the billing backend.",
		}, []string{"method", "resource", "status"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cashier",
			Name:      "backend_request_duration_seconds",
			Help:      "Latency of billing backend requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "resource"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "cache_events_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		invalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "cache_invalidated_entries_total",
			Help:      "Cache entries dropped by prefix invalidation.",
		}, []string{"prefix"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "http_requests_total",
			Help:      "Requests served by the gateway API.",
		}, []string{"method", "route", "status"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "handler_panics_total",
			Help:      "Panics recovered from gateway handlers.",
		}, []string{"route"}),
	}
	reg.MustRegister(
		m.backendRequests,
		m.backendLatency,
		m.cacheEvents,
		m.invalidated,
		m.httpRequests,
		m.panics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveBackend records one backend call. status is 0 for transport errors.
func (m *Metrics) ObserveBackend(method, resource string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(method, resource, strconv.Itoa(status)).Inc()
	m.backendLatency.WithLabelValues(method, resource).Observe(d.Seconds())
}

// CacheHit and CacheMiss count response cache lookups.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheEvents.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheEvents.WithLabelValues("miss").Inc()
	}
}

// Invalidated counts entries dropped for a prefix.
func (m *Metrics) Invalidated(prefix string, n int) {
	if m != nil {
		m.invalidated.WithLabelValues(prefix).Add(float64(n))
	}
}

// Panicked counts a recovered handler panic on route.
func (m *Metrics) Panicked(route string) {
	if m != nil {
		m.panics.WithLabelValues(route).Inc()
	}
}

// Middleware counts served requests by route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.httpRequests.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).Inc()
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
