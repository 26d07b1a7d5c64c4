package hub

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	activeConns    prometheus.Gauge
	activeSessions prometheus.Gauge
	relayedEvents  *prometheus.CounterVec
	invitesSent    prometheus.Counter
	droppedFrames  prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncplay",
			Subsystem: "hub",
			Name:      "active_connections",
			Help:      "Number of live websocket connections",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncplay",
			Subsystem: "hub",
			Name:      "active_sessions",
			Help:      "Number of sync sessions with at least one member",
		}),
		relayedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncplay",
			Subsystem: "hub",
			Name:      "relayed_events",
			Help:      "Number of sync events fanned out, by type",
		}, []string{"type"}),
		invitesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncplay",
			Subsystem: "hub",
			Name:      "invites_sent",
			Help:      "Number of invite_received notifications delivered",
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncplay",
			Subsystem: "hub",
			Name:      "dropped_frames",
			Help:      "Number of outbound frames dropped due to backpressure",
		}),
	}
	prometheus.MustRegister(m.activeConns, m.activeSessions, m.relayedEvents, m.invitesSent, m.droppedFrames)
	return m
}

func (m *metrics) unregister() {
	prometheus.Unregister(m.activeConns)
	prometheus.Unregister(m.activeSessions)
	prometheus.Unregister(m.relayedEvents)
	prometheus.Unregister(m.invitesSent)
	prometheus.Unregister(m.droppedFrames)
}
