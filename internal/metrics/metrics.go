// Package metrics exposes Prometheus counters for scan activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "netscan"

// Metrics holds the collectors updated by the scanners and the engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	probesSent      *prometheus.CounterVec
	repliesReceived *prometheus.CounterVec
	hostsDiscovered *prometheus.CounterVec
	openPorts       prometheus.Counter
	scans           *prometheus.CounterVec
	scanDuration    *prometheus.HistogramVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "sent_total",
			Help:      "Probes sent by kind.",
		}, []string{"kind"}),
		repliesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "replies_total",
			Help:      "Replies correlated to a probe, by kind.",
		}, []string{"kind"}),
		hostsDiscovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "hosts_total",
			Help:      "Hosts discovered by method.",
		}, []string{"method"}),
		openPorts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portscan",
			Name:      "open_ports_total",
			Help:      "Open TCP ports found.",
		}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "total",
			Help:      "Finished scans by mode and outcome.",
		}, []string{"mode", "outcome"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Wall time of finished scans.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}, []string{"mode"}),
	}

	m.registry.MustRegister(
		m.probesSent,
		m.repliesReceived,
		m.hostsDiscovered,
		m.openPorts,
		m.scans,
		m.scanDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry to serve over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ProbeSent counts one probe of the given kind.
func (m *Metrics) ProbeSent(kind string) {
	if m == nil {
		return
	}
	m.probesSent.WithLabelValues(kind).Inc()
}

// RepliesReceived counts n replies for the given kind.
func (m *Metrics) RepliesReceived(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repliesReceived.WithLabelValues(kind).Add(float64(n))
}

// HostDiscovered counts one host found with method.
func (m *Metrics) HostDiscovered(method string) {
	if m == nil {
		return
	}
	m.hostsDiscovered.WithLabelValues(method).Inc()
}

// OpenPort counts one open port.
func (m *Metrics) OpenPort() {
	if m == nil {
		return
	}
	m.openPorts.Inc()
}

// ScanFinished records the outcome and duration of a scan run.
func (m *Metrics) ScanFinished(mode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(mode, outcome).Inc()
	m.scanDuration.WithLabelValues(mode).Observe(seconds)
}
