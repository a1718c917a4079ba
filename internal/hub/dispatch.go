package hub

import (
	"time"

	"go.uber.org/zap"

	"github.com/episensor/app-template/internal/metrics"
)

// Dispatcher is the application-facing send API layered over the hub. The
// WebSocket protocol handlers, the REST control surface, and the status
// heartbeat all go through it, so every producer emits identical envelopes.
//
// All sends are fire-and-forget: the recipient counts report how many
// clients the frame was queued for, not how many read it.
type Dispatcher struct {
	hub    *Hub
	logger *zap.Logger
}

// NewDispatcher wraps a hub with the envelope-building dispatch operations.
func NewDispatcher(h *Hub, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{hub: h, logger: logger.Named("dispatch")}
}

// BroadcastAll wraps data in a broadcast envelope and queues it for every
// connected client. senderID, when non-empty, attributes the broadcast to
// the originating connection; control-surface broadcasts leave it blank.
func (d *Dispatcher) BroadcastAll(data any, senderID string) int {
	frame := d.hub.frame(EventBroadcast, BroadcastPayload{
		Data:      data,
		SenderID:  senderID,
		Timestamp: time.Now().UTC(),
	})
	n := d.hub.BroadcastAll(frame)

	metrics.DispatchesTotal.WithLabelValues("broadcast").Inc()
	d.logger.Debug("broadcast dispatched", zap.Int("recipients", n))
	return n
}

// SendToRoom wraps data in a room-message envelope and queues it for every
// member of room. Zero recipients is a valid outcome: rooms vanish when
// their last member leaves.
func (d *Dispatcher) SendToRoom(room string, data any) int {
	frame := d.hub.frame(EventRoomMessage, RoomMessagePayload{
		Room:      room,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	n := d.hub.DeliverRoom(room, frame)

	metrics.DispatchesTotal.WithLabelValues("room").Inc()
	d.logger.Debug("room message dispatched",
		zap.String("room", room),
		zap.Int("recipients", n),
	)
	return n
}

// SendToConnection wraps data in a direct-message envelope and queues it for
// one connection. Returns ErrNotConnected when id is not registered; a
// failed direct send counts toward no delivery statistics.
func (d *Dispatcher) SendToConnection(id string, data any) error {
	frame := d.hub.frame(EventDirectMessage, DirectMessagePayload{
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err := d.hub.SendTo(id, frame); err != nil {
		return err
	}

	metrics.DispatchesTotal.WithLabelValues("direct").Inc()
	return nil
}

// PublishTyped routes a typed data update to the clients subscribed to
// exactly this type and filter set, resolving the same room name the
// Subscribe path derived.
func (d *Dispatcher) PublishTyped(subType string, data any, filters map[string]any) int {
	room := SubscriptionKey(subType, filters)
	if filters == nil {
		filters = map[string]any{}
	}
	frame := d.hub.frame(EventDataUpdate, DataUpdatePayload{
		Type:      subType,
		Data:      data,
		Filters:   filters,
		Timestamp: time.Now().UTC(),
	})
	n := d.hub.DeliverRoom(room, frame)

	metrics.DispatchesTotal.WithLabelValues("publish").Inc()
	d.logger.Debug("data update published",
		zap.String("type", subType),
		zap.String("room", room),
		zap.Int("recipients", n),
	)
	return n
}

// Disconnect forwards to the hub's forced-disconnect path.
func (d *Dispatcher) Disconnect(id, reason string) error {
	return d.hub.Disconnect(id, reason)
}
