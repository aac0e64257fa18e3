// Package metrics exposes redirector activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git2.jad.ru/MeterRS485/sercd/internal/rfc2217"
	"git2.jad.ru/MeterRS485/sercd/internal/session"
)

const namespace = "sercd"

var states = []session.State{
	session.Ready, session.Connected, session.PortOpened, session.Stopped, session.Crashed,
}

// Metrics observes the loop and counts what it does. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	registry    *prometheus.Registry
	bytes       *prometheus.CounterVec
	connections *prometheus.CounterVec
	drops       *prometheus.CounterVec
	commands    *prometheus.CounterVec
	state       *prometheus.GaugeVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Payload bytes relayed, by direction.",
		}, []string{"direction"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Client connections, by result.",
		}, []string{"result"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drops_total",
			Help:      "Finished sessions, by reason.",
		}, []string{"reason"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comport_commands_total",
			Help:      "COM-PORT-OPTION requests handled, by command.",
		}, []string{"command"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the current lifecycle state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.bytes, m.connections, m.drops, m.commands, m.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry for tests and additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) StateChanged(state session.State, s *session.Session) {
	if m == nil {
		return
	}
	for _, st := range states {
		v := 0.0
		if st == state {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
	if state == session.Connected {
		m.connections.WithLabelValues("accepted").Inc()
	}
	if s != nil && (state == session.Ready || state == session.Stopped || state == session.Crashed) {
		if reason := s.Reason(); reason != "" {
			m.drops.WithLabelValues(reason).Inc()
		}
	}
}

func (m *Metrics) Rejected(remote string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("rejected").Inc()
}

func (m *Metrics) FromDevice(p []byte) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues("device_to_net").Add(float64(len(p)))
}

func (m *Metrics) ToDevice(p []byte) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues("net_to_device").Add(float64(len(p)))
}

// Command counts one handled request.
func (m *Metrics) Command(code byte) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(rfc2217.CommandName(code)).Inc()
}
