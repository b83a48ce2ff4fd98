// Package metrics provides Prometheus collectors for the connector.
//
// A [Metrics] value implements the recorder interfaces of the dispatch,
// daps and configuration packages and listens for configuration updates to
// export the certificate expiry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirosfoundation/go-ids/pkg/configuration"
)

// Metrics holds the connector collectors.
type Metrics struct {
	registry *prometheus.Registry

	messagesDispatched *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec
	tokenAcquisitions  *prometheus.CounterVec
	configUpdates      *prometheus.CounterVec
	certExpiry         prometheus.Gauge
}

// New registers the collectors with a fresh registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		messagesDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ids_messages_dispatched_total",
			Help: "Total number of inbound messages by type and outcome",
		}, []string{"message_type", "outcome"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ids_dispatch_duration_seconds",
			Help:    "Duration of inbound message dispatch",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		tokenAcquisitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ids_token_acquisitions_total",
			Help: "Total number of DAT requests by result",
		}, []string{"result"}), // result: success, transport, status, ...
		configUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ids_configuration_updates_total",
			Help: "Total number of configuration updates by result",
		}, []string{"result"}),
		certExpiry: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ids_certificate_expiry_timestamp_seconds",
			Help: "Unix timestamp when the connector certificate expires",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MessageDispatched implements dispatch.Recorder.
func (m *Metrics) MessageDispatched(messageType, outcome string, d time.Duration) {
	if messageType == "" {
		messageType = "unknown"
	}
	m.messagesDispatched.WithLabelValues(messageType, outcome).Inc()
	m.dispatchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// TokenAcquired implements daps.Recorder.
func (m *Metrics) TokenAcquired(result string) {
	m.tokenAcquisitions.WithLabelValues(result).Inc()
}

// ConfigurationUpdated implements configuration.Recorder.
func (m *Metrics) ConfigurationUpdated(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.configUpdates.WithLabelValues(result).Inc()
}

// ConfigurationChanged implements configuration.Listener.
func (m *Metrics) ConfigurationChanged(_ context.Context, snapshot configuration.Snapshot) error {
	m.ObserveIdentity(snapshot)
	return nil
}

// ObserveIdentity exports the certificate expiry of snapshot.
func (m *Metrics) ObserveIdentity(snapshot configuration.Snapshot) {
	if snapshot.Identity == nil {
		return
	}
	m.certExpiry.Set(float64(snapshot.Identity.CertificateExpiry().Unix()))
}
