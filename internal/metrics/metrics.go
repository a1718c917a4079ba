// Package metrics defines the Prometheus collectors exported by the server.
// Collectors register on the default registry and are served by the router
// at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive is the number of currently registered WebSocket
	// connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "app_template",
		Subsystem: "ws",
		Name:      "connections_active",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// RoomsActive is the number of rooms with at least one member,
	// subscription rooms included.
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "app_template",
		Subsystem: "ws",
		Name:      "rooms_active",
		Help:      "Number of occupied rooms, including subscription rooms.",
	})

	// FramesEnqueued counts frames accepted onto per-client send buffers.
	FramesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "app_template",
		Subsystem: "ws",
		Name:      "frames_enqueued_total",
		Help:      "Frames queued onto client send buffers.",
	})

	// SlowClientDrops counts clients disconnected because their send buffer
	// was full when a frame arrived.
	SlowClientDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "app_template",
		Subsystem: "ws",
		Name:      "slow_client_drops_total",
		Help:      "Clients disconnected for not draining their send buffer.",
	})

	// DispatchesTotal counts dispatch operations by kind: broadcast, room,
	// direct, publish.
	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "app_template",
		Subsystem: "dispatch",
		Name:      "operations_total",
		Help:      "Dispatch operations by kind.",
	}, []string{"kind"})
)
