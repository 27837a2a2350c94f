// Package metrics exposes Prometheus collectors for adapter calls and
// claim outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"depverify/internal/errors"
)

const namespace = "depverify"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	adapterCalls    *prometheus.CounterVec
	adapterDuration *prometheus.HistogramVec
	claims          *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		// Labels: adapter, outcome (ok, negative, unavailable, timeout, rejected, cancelled)
		adapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_calls_total",
			Help:      "Adapter calls made through the gateway",
		}, []string{"adapter", "outcome"}),

		adapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_call_seconds",
			Help:      "Adapter call latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"adapter"}),

		// Labels: status (confirmed, rejected, cancelled, failed)
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claims verified, by final status",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.adapterCalls, m.adapterDuration, m.claims)
	return m
}

// ObserveAdapterCall records one gateway call.
func (m *Metrics) ObserveAdapterCall(adapter, outcome string, d time.Duration) {
	m.adapterCalls.WithLabelValues(adapter, outcome).Inc()
	m.adapterDuration.WithLabelValues(adapter).Observe(d.Seconds())
}

// ObserveClaim records a finished claim.
func (m *Metrics) ObserveClaim(status string) {
	m.claims.WithLabelValues(status).Inc()
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current values in the text exposition format,
// for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.New(errors.InternalError, "failed to write metrics file", err)
	}
	return nil
}
