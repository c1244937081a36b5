// Package metrics exposes the relay's internal event counters in
// Prometheus' exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Event names. All counters live in a single metric with an `event` label
// so new counters don't require registry changes.
const (
	PeerConnected    = "peer_connected"
	PeerDisconnected = "peer_disconnected"
	PeerEvicted      = "peer_evicted"

	RoomJoined  = "room_joined"
	RoomLeft    = "room_left"
	RoomCreated = "room_created"
	RoomDeleted = "room_deleted"

	RelayDelivered = "relay_delivered"

	DropReasonTargetMissing = "drop_target_missing"
	DropReasonSlowConsumer  = "drop_slow_consumer"
	DropReasonRateLimited   = "drop_rate_limited"

	ProtocolError = "protocol_error"
)

// Metrics is a concurrency-safe counter registry scoped to one relay
// process.
type Metrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_relay_events_total",
		Help: "Internal event counters.",
	}, []string{"event"})
	registry.MustRegister(events)

	return &Metrics{registry: registry, events: events}
}

func (m *Metrics) Inc(name string) {
	m.events.WithLabelValues(name).Inc()
}

// Get reads a counter's current value. Intended for tests and the
// occasional log line, not hot paths.
func (m *Metrics) Get(name string) uint64 {
	var out dto.Metric
	if err := m.events.WithLabelValues(name).Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
