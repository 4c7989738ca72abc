// Package metrics exposes Prometheus instrumentation for SerialHome Core.
//
// Metrics live in a private registry so that several instances (tests,
// embedded use) never collide on the default one.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serialhome"

// Metrics collects gateway, engine and HTTP instrumentation.
// It implements gateway.Observer and automation.Observer.
type Metrics struct {
	registry *prometheus.Registry

	exchanges        *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	readings         *prometheus.CounterVec
	actuations       *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates and registers every collector, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_exchanges_total",
			Help:      "Serial exchanges by operation and outcome.",
		}, []string{"op", "outcome"}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_exchange_duration_seconds",
			Help:      "Time from request frame to reply or timeout.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_readings_total",
			Help:      "Recorded sensor readings by outcome.",
		}, []string{"outcome"}),
		actuations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actor_commands_total",
			Help:      "Drive commands sent to actors by source.",
		}, []string{"source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.exchanges,
		m.exchangeDuration,
		m.readings,
		m.actuations,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// ObserveExchange records one finished gateway exchange.
func (m *Metrics) ObserveExchange(op, outcome string, elapsed time.Duration) {
	m.exchanges.WithLabelValues(op, outcome).Inc()
	m.exchangeDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveReading records one stored sensor reading.
func (m *Metrics) ObserveReading(noData bool) {
	outcome := "value"
	if noData {
		outcome = "no_data"
	}
	m.readings.WithLabelValues(outcome).Inc()
}

// ObserveActuation records one drive command.
func (m *Metrics) ObserveActuation(source string) {
	m.actuations.WithLabelValues(source).Inc()
}

// RegisterGauge exposes fn as a gauge, e.g. the number of live scheduler
// tasks or connected WebSocket clients.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
