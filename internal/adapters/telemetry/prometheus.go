// Package telemetry exports model call and request metrics to Prometheus.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/ports"
)

// Exporter holds all Prometheus metrics of the service. Each exporter owns
// its registry.
type Exporter struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	// Model call metrics
	ModelCallsTotal   *prometheus.CounterVec
	ModelTTFT         *prometheus.HistogramVec
	ModelCallDuration *prometheus.HistogramVec
	ModelOutputTokens *prometheus.CounterVec
	ModelTokensPerSec *prometheus.HistogramVec
	MessagesFinalized *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge

	StartTime time.Time
}

var (
	_ ports.SampleRecorder  = (*Exporter)(nil)
	_ ports.MessageObserver = (*Exporter)(nil)
)

// NewExporter creates and registers the metrics under namespace.
func NewExporter(namespace string) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	e := &Exporter{
		registry:  reg,
		factory:   promauto.With(reg),
		StartTime: time.Now(),
	}

	e.ModelCallsTotal = e.factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Total number of model calls by outcome",
		},
		[]string{"model", "outcome"},
	)

	e.ModelTTFT = e.factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_time_to_first_token_seconds",
			Help:      "Time from request to the first streamed token",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	e.ModelCallDuration = e.factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Duration of model calls in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model", "outcome"},
	)

	e.ModelOutputTokens = e.factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_output_tokens_total",
			Help:      "Total number of tokens generated",
		},
		[]string{"model"},
	)

	e.ModelTokensPerSec = e.factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_tokens_per_second",
			Help:      "Generation throughput of successful calls",
			Buckets:   []float64{1, 5, 10, 20, 40, 80, 160},
		},
		[]string{"model"},
	)

	e.MessagesFinalized = e.factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_finalized_total",
			Help:      "Assistant messages that reached a final state",
		},
		[]string{"model", "status"},
	)

	e.HTTPRequestsTotal = e.factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	e.HTTPRequestDuration = e.factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	e.HTTPInFlight = e.factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being served",
		},
	)

	e.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		},
		func() float64 { return time.Since(e.StartTime).Seconds() },
	)

	return e
}

// Record implements ports.SampleRecorder.
func (e *Exporter) Record(sample entities.BenchmarkSample) {
	outcome := string(sample.Outcome)
	e.ModelCallsTotal.WithLabelValues(sample.Model, outcome).Inc()
	e.ModelCallDuration.WithLabelValues(sample.Model, outcome).Observe(sample.TotalDuration.Seconds())

	if sample.OutputTokens > 0 {
		e.ModelOutputTokens.WithLabelValues(sample.Model).Add(float64(sample.OutputTokens))
	}
	if sample.TTFT > 0 {
		e.ModelTTFT.WithLabelValues(sample.Model).Observe(sample.TTFT.Seconds())
	}
	if tps, ok := sample.TokensPerSecond(); ok {
		e.ModelTokensPerSec.WithLabelValues(sample.Model).Observe(tps)
	}
}

// OnMessageFinalized implements ports.MessageObserver.
func (e *Exporter) OnMessageFinalized(message *entities.Message) {
	if message == nil || !message.IsFromAssistant() {
		return
	}
	e.MessagesFinalized.WithLabelValues(message.Model, string(message.Status)).Inc()
}

// Gauge registers a gauge whose value is read from fn at scrape time.
func (e *Exporter) Gauge(name, help string, fn func() float64) {
	e.factory.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}

// Middleware records one observation per HTTP request. Unmatched routes
// are grouped under a single path label.
func (e *Exporter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		e.HTTPInFlight.Inc()
		defer e.HTTPInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		e.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		e.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// Registry exposes the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
