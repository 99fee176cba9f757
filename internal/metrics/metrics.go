// Package metrics exposes the gateway's Prometheus instrumentation.
//
// Request-path series are labeled by route id rather than raw path so
// cardinality stays bounded by configuration, not by traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Breaker state gauge values.
const (
	BreakerClosed   = 0
	BreakerOpen     = 1
	BreakerHalfOpen = 2
)

// Collector owns the gateway's metric series and the registry they live
// in. A fresh registry per collector keeps tests isolated and avoids the
// global default registry.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	responsesTotal  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestSize     *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec

	endpointHealthy     *prometheus.GaugeVec
	endpointConnections *prometheus.GaugeVec
	breakerState        *prometheus.GaugeVec
}

// NewCollector builds and registers every gateway metric.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Requests received, by route and method.",
		}, []string{"route", "method"}),
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_responses_total",
			Help: "Responses returned to clients, by route and status code.",
		}, []string{"route", "status"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Requests that terminated with a gateway error, by error type.",
		}, []string{"type"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_retries_total",
			Help: "Retry attempts performed, by route.",
		}, []string{"route"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "End-to-end request latency including retries, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		requestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "Request body sizes, by route.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"route"}),
		responseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response body sizes, by route.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"route"}),
		endpointHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "endpoint_healthy",
			Help: "Endpoint health as seen by the monitor: 1 healthy, 0 unhealthy.",
		}, []string{"service", "endpoint"}),
		endpointConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "endpoint_active_connections",
			Help: "In-flight requests per endpoint.",
		}, []string{"service", "endpoint"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per endpoint: 0 closed, 1 open, 2 half-open.",
		}, []string{"endpoint"}),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.responsesTotal,
		c.errorsTotal,
		c.retriesTotal,
		c.requestDuration,
		c.requestSize,
		c.responseSize,
		c.endpointHealthy,
		c.endpointConnections,
		c.breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler returns the /metrics scrape handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one inbound request on a matched route.
func (c *Collector) RecordRequest(route, method string) {
	c.requestsTotal.WithLabelValues(route, method).Inc()
}

// RecordResponse records the terminal response of a request.
func (c *Collector) RecordResponse(route string, status int, duration time.Duration, requestBytes, responseBytes int64) {
	c.responsesTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
	if requestBytes >= 0 {
		c.requestSize.WithLabelValues(route).Observe(float64(requestBytes))
	}
	if responseBytes >= 0 {
		c.responseSize.WithLabelValues(route).Observe(float64(responseBytes))
	}
}

// RecordError counts a request that ended in a gateway error.
func (c *Collector) RecordError(errType string) {
	c.errorsTotal.WithLabelValues(errType).Inc()
}

// RecordRetry counts one retry attempt on a route.
func (c *Collector) RecordRetry(route string) {
	c.retriesTotal.WithLabelValues(route).Inc()
}

// SetEndpointHealth publishes an endpoint's health bit.
func (c *Collector) SetEndpointHealth(service, endpoint string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.endpointHealthy.WithLabelValues(service, endpoint).Set(v)
}

// SetEndpointConnections publishes an endpoint's in-flight request count.
func (c *Collector) SetEndpointConnections(service, endpoint string, conns int64) {
	c.endpointConnections.WithLabelValues(service, endpoint).Set(float64(conns))
}

// SetBreakerState publishes a breaker state using the Breaker* gauge values.
func (c *Collector) SetBreakerState(endpoint string, state int) {
	c.breakerState.WithLabelValues(endpoint).Set(float64(state))
}

// DeleteEndpoint drops the per-endpoint series of a removed endpoint so
// stale gauges do not linger in scrapes.
func (c *Collector) DeleteEndpoint(service, endpoint string) {
	c.endpointHealthy.DeleteLabelValues(service, endpoint)
	c.endpointConnections.DeleteLabelValues(service, endpoint)
	c.breakerState.DeleteLabelValues(endpoint)
}
