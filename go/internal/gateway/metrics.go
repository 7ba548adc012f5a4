package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "focusroom",
		Subsystem: "gateway",
		Name:      "active_connections",
		Help:      "Number of open WebSocket connections.",
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "focusroom",
		Subsystem: "gateway",
		Name:      "active_rooms",
		Help:      "Number of rooms with at least one open connection.",
	})

	eventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focusroom",
		Subsystem: "gateway",
		Name:      "events_broadcast_total",
		Help:      "Events delivered to connections, by event type.",
	}, []string{"type"})

	commandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focusroom",
		Subsystem: "gateway",
		Name:      "commands_handled_total",
		Help:      "Client commands processed, by command type and outcome.",
	}, []string{"type", "outcome"})
)
