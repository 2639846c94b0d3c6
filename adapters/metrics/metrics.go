// Package metrics provides Prometheus metrics collection for the mock
// dispatch engine, plus the invocation telemetry sink.
package metrics

import (
	"github.com/artpar/mockengine/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Collector holds all Prometheus metrics for the engine.
type Collector struct {
	// HTTP surface metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Invocation accounting metrics
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	ProxiedTotal       *prometheus.CounterVec
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered on the given registry.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mockengine",
				Name:      "requests_total",
				Help:      "Total mock requests by service, method, and status.",
			},
			[]string{"service", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mockengine",
				Name:      "request_duration_seconds",
				Help:      "Mock request duration by service and method.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "method"},
		),
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mockengine",
				Name:      "invocations_total",
				Help:      "Served mock invocations by service, version, and response.",
			},
			[]string{"service", "version", "response"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mockengine",
				Name:      "invocation_duration_seconds",
				Help:      "End-to-end invocation duration, including enforced delay.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "version"},
		),
		ProxiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mockengine",
				Name:      "proxied_total",
				Help:      "Invocations forwarded to an external upstream.",
			},
			[]string{"service", "version"},
		),
	}
}

// Sink publishes invocation events into the collector and the log. Record
// updates in-memory counters and writes one log line per event.
type Sink struct {
	collector *Collector
	logger    zerolog.Logger
}

// NewSink creates the telemetry sink.
func NewSink(collector *Collector, logger zerolog.Logger) *Sink {
	return &Sink{
		collector: collector,
		logger:    logger.With().Str("component", "invocations").Logger(),
	}
}

// Record publishes one invocation event.
func (s *Sink) Record(event ports.InvocationEvent) {
	s.collector.InvocationsTotal.WithLabelValues(event.ServiceName, event.ServiceVersion, event.ResponseName).Inc()
	s.collector.InvocationDuration.WithLabelValues(event.ServiceName, event.ServiceVersion).Observe(event.Duration.Seconds())
	if event.Proxied {
		s.collector.ProxiedTotal.WithLabelValues(event.ServiceName, event.ServiceVersion).Inc()
	}

	s.logger.Info().
		Str("id", event.ID).
		Str("service", event.ServiceName).
		Str("version", event.ServiceVersion).
		Str("operation", event.OperationName).
		Str("response", event.ResponseName).
		Str("requestId", event.RequestID).
		Int("status", event.Status).
		Bool("proxied", event.Proxied).
		Dur("duration", event.Duration).
		Msg("invocation")
}

// Ensure interface compliance.
var _ ports.InvocationSink = (*Sink)(nil)
