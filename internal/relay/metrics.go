package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	ActiveConnections   prometheus.Gauge
	ActiveRooms         prometheus.Gauge
	Connections         prometheus.Counter
	RejectedConnections prometheus.Counter
	Messages            *prometheus.CounterVec
	Deliveries          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "active_connections",
			Help:      "Participants currently registered in a room.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "active_rooms",
			Help:      "Room entries held by the registry.",
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "connections_total",
			Help:      "Participants that joined a room.",
		}),
		RejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "rejected_connections_total",
			Help:      "Connection attempts rejected for missing identity.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "messages_total",
			Help:      "Inbound messages by outcome.",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "deliveries_total",
			Help:      "Per-target delivery attempts by outcome.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveConnections,
			m.ActiveRooms,
			m.Connections,
			m.RejectedConnections,
			m.Messages,
			m.Deliveries,
		)
	}
	return m
}

const (
	resultBroadcast = "broadcast"
	resultMalformed = "malformed"
	resultSent      = "sent"
	resultSkipped   = "skipped"
)
