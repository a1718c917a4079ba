package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/episensor/app-template/internal/hub"
)

// ControlHandler exposes the dispatch and introspection operations of the
// realtime layer over REST. Every write here fans out through the same
// dispatcher the socket handler uses, so delivery rules are identical for
// both surfaces.
type ControlHandler struct {
	hub       *hub.Hub
	dispatch  *hub.Dispatcher
	validate  *validator.Validate
	logger    *zap.Logger
	startedAt time.Time
}

// NewControlHandler creates a control handler backed by the given hub and
// dispatcher.
func NewControlHandler(h *hub.Hub, d *hub.Dispatcher, logger *zap.Logger) *ControlHandler {
	return &ControlHandler{
		hub:       h,
		dispatch:  d,
		validate:  newValidator(),
		logger:    logger.Named("control"),
		startedAt: time.Now(),
	}
}

// clientResponse is the wire representation of one connection. Room
// membership is intentionally not part of it; use the room endpoints for
// membership queries.
type clientResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Roles       []string  `json:"roles"`
	ConnectedAt time.Time `json:"connectedAt"`
}

func clientToResponse(info hub.ConnectionInfo) clientResponse {
	return clientResponse{
		ID:          info.ID,
		Username:    info.Username,
		Roles:       info.Roles,
		ConnectedAt: info.ConnectedAt,
	}
}

type listClientsResponse struct {
	Count   int              `json:"count"`
	Clients []clientResponse `json:"clients"`
}

// ListClients handles GET /api/ws/clients. Clients appear in connection
// order.
func (h *ControlHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	infos := h.hub.Connections()
	clients := make([]clientResponse, len(infos))
	for i, info := range infos {
		clients[i] = clientToResponse(info)
	}
	Ok(w, listClientsResponse{Count: len(clients), Clients: clients})
}

type listRoomsResponse struct {
	Count int            `json:"count"`
	Rooms []hub.RoomInfo `json:"rooms"`
}

// ListRooms handles GET /api/ws/rooms.
func (h *ControlHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.hub.Rooms()
	Ok(w, listRoomsResponse{Count: len(rooms), Rooms: rooms})
}

type roomClientsResponse struct {
	Room    string   `json:"room"`
	Count   int      `json:"count"`
	Clients []string `json:"clients"`
}

// RoomClients handles GET /api/ws/rooms/{roomName}/clients. A room nobody
// has joined reports zero members rather than an error.
func (h *ControlHandler) RoomClients(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "roomName")
	members := h.hub.MembersOf(room)
	Ok(w, roomClientsResponse{Room: room, Count: len(members), Clients: members})
}

type broadcastRequest struct {
	Message string         `json:"message" validate:"required"`
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
}

type broadcastResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	ClientCount int    `json:"clientCount"`
}

// Broadcast handles POST /api/ws/broadcast. The message and type are merged
// with any extra data fields into a single payload; extra fields win on
// collision.
func (h *ControlHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		failValidation(w, err)
		return
	}
	if req.Type == "" {
		req.Type = "general"
	}

	payload := map[string]any{"message": req.Message, "type": req.Type}
	for k, v := range req.Data {
		payload[k] = v
	}
	count := h.dispatch.BroadcastAll(payload, "")
	Ok(w, broadcastResponse{Type: req.Type, Message: req.Message, ClientCount: count})
}

type roomMessageRequest struct {
	Message string `json:"message" validate:"required"`
	Type    string `json:"type"`
}

type roomMessageResponse struct {
	Room        string `json:"room"`
	Message     string `json:"message"`
	ClientCount int    `json:"clientCount"`
}

// RoomMessage handles POST /api/ws/rooms/{roomName}/message. Sending to a
// room with no members succeeds with a zero client count.
func (h *ControlHandler) RoomMessage(w http.ResponseWriter, r *http.Request) {
	var req roomMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		failValidation(w, err)
		return
	}
	if req.Type == "" {
		req.Type = "room-message"
	}

	room := chi.URLParam(r, "roomName")
	payload := map[string]any{"message": req.Message, "type": req.Type}
	count := h.dispatch.SendToRoom(room, payload)
	Ok(w, roomMessageResponse{Room: room, Message: req.Message, ClientCount: count})
}

type directMessageRequest struct {
	Message string         `json:"message" validate:"required"`
	Data    map[string]any `json:"data"`
}

type directMessageResponse struct {
	SocketID string `json:"socketId"`
	Message  string `json:"message"`
}

// DirectMessage handles POST /api/ws/clients/{clientId}/message.
func (h *ControlHandler) DirectMessage(w http.ResponseWriter, r *http.Request) {
	var req directMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		failValidation(w, err)
		return
	}

	id := chi.URLParam(r, "clientId")
	payload := map[string]any{"message": req.Message}
	for k, v := range req.Data {
		payload[k] = v
	}
	if err := h.dispatch.SendToConnection(id, payload); err != nil {
		if errors.Is(err, hub.ErrNotConnected) {
			ErrClientNotFound(w)
			return
		}
		h.logger.Error("direct message failed", zap.String("socket_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, directMessageResponse{SocketID: id, Message: req.Message})
}

type publishRequest struct {
	Type    string         `json:"type" validate:"required"`
	Data    any            `json:"data"`
	Filters map[string]any `json:"filters"`
}

type publishResponse struct {
	Type      string         `json:"type"`
	Filters   map[string]any `json:"filters"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publish handles POST /api/ws/publish. Data presence is checked by hand
// because a zero value such as 0 or false is still a valid payload.
func (h *ControlHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		failValidation(w, err)
		return
	}
	if req.Data == nil {
		failValidationFields(w, validationDetail{Field: "data", Rule: "required"})
		return
	}
	if req.Filters == nil {
		req.Filters = map[string]any{}
	}

	h.dispatch.PublishTyped(req.Type, req.Data, req.Filters)
	Ok(w, publishResponse{Type: req.Type, Filters: req.Filters, Timestamp: time.Now().UTC()})
}

type disconnectRequest struct {
	Reason string `json:"reason"`
}

type disconnectResponse struct {
	SocketID string `json:"socketId"`
	Reason   string `json:"reason"`
}

// DisconnectClient handles POST /api/ws/clients/{clientId}/disconnect. The
// body is optional; a missing reason falls back to a generic one, and that
// reason is both pushed to the client in its close frame and echoed here.
func (h *ControlHandler) DisconnectClient(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "disconnected by server"
	}

	id := chi.URLParam(r, "clientId")
	if err := h.dispatch.Disconnect(id, req.Reason); err != nil {
		if errors.Is(err, hub.ErrNotConnected) {
			ErrClientNotFound(w)
			return
		}
		h.logger.Error("disconnect failed", zap.String("socket_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, disconnectResponse{SocketID: id, Reason: req.Reason})
}

type statusResponse struct {
	Status           string    `json:"status"`
	ConnectedClients int       `json:"connectedClients"`
	Uptime           int64     `json:"uptime"`
	Timestamp        time.Time `json:"timestamp"`
}

// Status handles GET /api/ws/status. Uptime is whole seconds since the
// handler was constructed.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	Ok(w, statusResponse{
		Status:           "active",
		ConnectedClients: h.hub.Count(),
		Uptime:           int64(time.Since(h.startedAt).Seconds()),
		Timestamp:        time.Now().UTC(),
	})
}
