// Package ws bridges gorilla/websocket connections to the hub: it upgrades
// HTTP requests, pumps frames in both directions, and translates the
// client-side event protocol into registry, room, and dispatch calls.
package ws

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/episensor/app-template/internal/hub"
)

// upgrader performs the HTTP to WebSocket protocol upgrade. CheckOrigin
// always returns true; origin policy belongs to the desktop shell or the
// reverse proxy in front of the server.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler owns the WebSocket endpoint. Every accepted connection is
// registered with the hub before its pumps start, so the connection
// acknowledgement is always the first frame on the wire.
type Handler struct {
	hub      *hub.Hub
	dispatch *hub.Dispatcher
	logger   *zap.Logger
}

func NewHandler(h *hub.Hub, d *hub.Dispatcher, logger *zap.Logger) *Handler {
	return &Handler{hub: h, dispatch: d, logger: logger.Named("ws")}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, h.logger)
	info := h.hub.Register(client)
	client.id = info.ID
	client.logger = h.logger.With(
		zap.String("connection_id", info.ID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	go client.writePump()
	client.readPump(h)
}

// handleEvent routes one inbound frame. Malformed or unknown events earn an
// error frame and the connection stays open; a panic in an event handler is
// contained to the offending event.
func (h *Handler) handleEvent(c *Client, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("event handler panic", zap.Any("panic", rec))
			h.sendError(c, "internal error")
		}
	}()

	var ev clientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.sendError(c, "malformed event")
		return
	}

	switch ev.Event {
	case evAuthenticate:
		h.onAuthenticate(c, ev.Data)
	case evJoinRoom:
		h.onJoinRoom(c, ev.Data)
	case evLeaveRoom:
		h.onLeaveRoom(c, ev.Data)
	case evMessage:
		h.onMessage(c, ev.Data)
	case evSubscribe:
		h.onSubscribe(c, ev.Data)
	case evUnsubscribe:
		h.onUnsubscribe(c, ev.Data)
	default:
		h.sendError(c, fmt.Sprintf("unknown event %q", ev.Event))
	}
}

func (h *Handler) onAuthenticate(c *Client, raw json.RawMessage) {
	var p authenticatePayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			h.sendError(c, "invalid authenticate payload")
			return
		}
	}

	ident, ok := h.hub.Authenticate(c.id, hub.Identity{Username: p.Username, Roles: p.Roles})
	if !ok {
		return
	}
	h.sendFrame(c, hub.EventAuthenticated, hub.AuthenticatedPayload{Success: true, User: ident})
}

func (h *Handler) onJoinRoom(c *Client, raw json.RawMessage) {
	p, ok := h.decodeRoom(c, raw, "join-room")
	if !ok {
		return
	}
	// The hub acknowledges the join and announces the arrival itself.
	h.hub.JoinRoom(c.id, p.Room)
}

func (h *Handler) onLeaveRoom(c *Client, raw json.RawMessage) {
	p, ok := h.decodeRoom(c, raw, "leave-room")
	if !ok {
		return
	}
	h.hub.LeaveRoom(c.id, p.Room)
}

// onMessage rebroadcasts whatever payload the client attached, attributed
// to the sending connection.
func (h *Handler) onMessage(c *Client, raw json.RawMessage) {
	var payload any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			h.sendError(c, "invalid message payload")
			return
		}
	}
	h.dispatch.BroadcastAll(payload, c.id)
}

func (h *Handler) onSubscribe(c *Client, raw json.RawMessage) {
	p, ok := h.decodeSubscription(c, raw, "subscribe")
	if !ok {
		return
	}

	room, ok := h.hub.Subscribe(c.id, p.Type, p.Filters)
	if !ok {
		return
	}
	if p.Filters == nil {
		p.Filters = map[string]any{}
	}
	h.sendFrame(c, hub.EventSubscribed, hub.SubscribedPayload{
		Type:    p.Type,
		Filters: p.Filters,
		Room:    room,
	})
}

func (h *Handler) onUnsubscribe(c *Client, raw json.RawMessage) {
	p, ok := h.decodeSubscription(c, raw, "unsubscribe")
	if !ok {
		return
	}

	if _, ok := h.hub.Unsubscribe(c.id, p.Type, p.Filters); !ok {
		return
	}
	if p.Filters == nil {
		p.Filters = map[string]any{}
	}
	h.sendFrame(c, hub.EventUnsubscribed, hub.UnsubscribedPayload{
		Type:    p.Type,
		Filters: p.Filters,
	})
}

func (h *Handler) decodeRoom(c *Client, raw json.RawMessage, event string) (roomPayload, bool) {
	var p roomPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			h.sendError(c, "invalid "+event+" payload")
			return p, false
		}
	}
	if p.Room == "" {
		h.sendError(c, event+" requires a room name")
		return p, false
	}
	return p, true
}

func (h *Handler) decodeSubscription(c *Client, raw json.RawMessage, event string) (subscriptionPayload, bool) {
	var p subscriptionPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			h.sendError(c, "invalid "+event+" payload")
			return p, false
		}
	}
	if p.Type == "" {
		h.sendError(c, event+" requires a type")
		return p, false
	}
	return p, true
}

// sendFrame pushes one protocol acknowledgement through the hub so the
// slow-client policy applies to acknowledgements exactly as to deliveries.
func (h *Handler) sendFrame(c *Client, event hub.EventType, data any) {
	b, err := json.Marshal(hub.Frame{Event: event, Data: data})
	if err != nil {
		c.logger.Error("ack marshal failed", zap.Error(err))
		return
	}
	if err := h.hub.SendTo(c.id, b); err != nil {
		c.logger.Debug("ack dropped, connection gone", zap.Error(err))
	}
}

func (h *Handler) sendError(c *Client, msg string) {
	h.sendFrame(c, hub.EventError, hub.ErrorPayload{Message: msg})
}
