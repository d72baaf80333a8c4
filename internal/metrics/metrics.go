// Package metrics exposes the backend's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	DatabaseErrors   prometheus.Counter
	ActiveWebSockets prometheus.Gauge
	MessagesSent     prometheus.Counter
	EventsDropped    prometheus.Counter

	registry *prometheus.Registry
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		DatabaseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "database_errors_total",
			Help: "Total number of failed database operations",
		}),
		ActiveWebSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of open push channel connections",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total number of messages stored",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "websocket_events_dropped_total",
			Help: "Push events dropped because a client's buffer was full",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.DatabaseErrors,
		m.ActiveWebSockets,
		m.MessagesSent,
		m.EventsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Middleware records the count and duration of every request by route.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		path := c.Route().Path

		m.RequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Gatherer exposes the registry to tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
