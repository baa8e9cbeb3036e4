package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of the router. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	connections prometheus.Gauge
	online      prometheus.Gauge
	pushes      *prometheus.CounterVec
	frames      *prometheus.CounterVec
	calls       *prometheus.CounterVec
}

// NewMetrics registers the router collectors with reg, or the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taptik_connections_active",
			Help: "Current number of attached WebSocket connections.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taptik_identities_online",
			Help: "Identities with a registered presence.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taptik_pushes_total",
			Help: "Targeted pushes grouped by event and outcome.",
		}, []string{"event", "outcome"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taptik_inbound_frames_total",
			Help: "Frames received from clients grouped by event.",
		}, []string{"event"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taptik_call_outcomes_total",
			Help: "Call lifecycle transitions grouped by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.connections,
		m.online,
		m.pushes,
		m.frames,
		m.calls,
	)
	return m
}

func (m *Metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) setOnline(n int) {
	if m == nil {
		return
	}
	m.online.Set(float64(n))
}

func (m *Metrics) recordPush(event, outcome string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) recordFrame(event string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(event).Inc()
}

// ObserveCall counts a call outcome. It matches calls.Observer.
func (m *Metrics) ObserveCall(outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
}
