// Package metrics holds the Prometheus collectors shared by the transport,
// nat and crypto packages. Every method is safe to call on a nil *Metrics,
// which is how instrumentation is disabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peerlink"

// Metrics is a set of registered collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	frames         *prometheus.CounterVec
	bytesSent      *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	probes         *prometheus.CounterVec
	probeLatency   prometheus.Histogram
	cryptoFailures *prometheus.CounterVec
	keyCache       *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors with reg. The gatherer is used by
// Handler and may be nil when no HTTP exposition is needed.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames emitted on registration streams, by kind.",
		}, []string{"kind"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes queued for sending, by protocol.",
		}, []string{"protocol"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "registrations_total",
			Help:      "Socket registrations created, by protocol and mode.",
		}, []string{"protocol", "mode"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nat",
			Name:      "probes_total",
			Help:      "STUN binding probes, by outcome.",
		}, []string{"outcome"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "nat",
			Name:      "probe_latency_seconds",
			Help:      "Round-trip time of successful STUN binding probes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		cryptoFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "failures_total",
			Help:      "Failed decrypt and verify operations.",
		}, []string{"operation"}),
		keyCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "key_cache_total",
			Help:      "Derived key cache lookups, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.frames, m.bytesSent, m.registrations, m.probes,
			m.probeLatency, m.cryptoFailures, m.keyCache)
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// FrameEmitted counts a frame of the given kind.
func (m *Metrics) FrameEmitted(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

// BytesSent adds n payload bytes for protocol.
func (m *Metrics) BytesSent(protocol string, n int) {
	if m == nil {
		return
	}
	m.bytesSent.WithLabelValues(protocol).Add(float64(n))
}

// RegistrationCreated counts a new socket registration.
func (m *Metrics) RegistrationCreated(protocol, mode string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(protocol, mode).Inc()
}

// ProbeFinished records a STUN probe outcome and, on success, its latency.
func (m *Metrics) ProbeFinished(err error, latency time.Duration) {
	if m == nil {
		return
	}
	if err != nil {
		m.probes.WithLabelValues("error").Inc()
		return
	}
	m.probes.WithLabelValues("success").Inc()
	m.probeLatency.Observe(latency.Seconds())
}

// CryptoFailure counts a failed decrypt or verify.
func (m *Metrics) CryptoFailure(operation string) {
	if m == nil {
		return
	}
	m.cryptoFailures.WithLabelValues(operation).Inc()
}

// KeyCacheLookup counts a derived key cache hit or miss.
func (m *Metrics) KeyCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.keyCache.WithLabelValues(result).Inc()
}
