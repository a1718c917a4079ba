// Package hub implements the in-memory core of the realtime layer: the
// connection registry, named rooms, typed-subscription routing, and the
// dispatch operations that fan event envelopes out to connected clients.
//
// Every frame pushed to a client is a JSON envelope:
//
//	{"event":"room-message","data":{"room":"alerts","data":{...},"timestamp":"..."}}
//
// Event names and payload shapes are defined in this file and shared by the
// WebSocket transport and the REST control surface, so a client sees the
// same envelope no matter which side produced it.
package hub

import (
	"time"

	"github.com/goccy/go-json"
)

// EventType identifies the kind of event carried by a Frame. Clients
// dispatch on this name, so the strings are wire contract.
type EventType string

const (
	// EventConnected is the first frame every client receives. It carries
	// the connection id assigned by the registry.
	EventConnected EventType = "connected"

	// EventAuthenticated acknowledges an authenticate request and echoes
	// the identity now attached to the connection.
	EventAuthenticated EventType = "authenticated"

	// EventRoomJoined acknowledges a join to the joining client itself.
	EventRoomJoined EventType = "room-joined"

	// EventRoomLeft acknowledges a leave to the leaving client itself.
	EventRoomLeft EventType = "room-left"

	// EventUserJoined tells existing room members that a peer arrived.
	// Never sent to the peer that joined.
	EventUserJoined EventType = "user-joined"

	// EventUserLeft tells remaining room members that a peer departed,
	// whether by an explicit leave or a disconnect.
	EventUserLeft EventType = "user-left"

	// EventSubscribed acknowledges a typed subscription and reveals the
	// room name it resolved to.
	EventSubscribed EventType = "subscribed"

	// EventUnsubscribed acknowledges removal of a typed subscription.
	EventUnsubscribed EventType = "unsubscribed"

	// EventBroadcast carries a message addressed to every connected client.
	EventBroadcast EventType = "broadcast"

	// EventRoomMessage carries a message addressed to one room.
	EventRoomMessage EventType = "room-message"

	// EventDirectMessage carries a message addressed to one connection.
	EventDirectMessage EventType = "direct-message"

	// EventDataUpdate carries a typed data payload to matching subscribers.
	EventDataUpdate EventType = "data-update"

	// EventError reports a rejected or malformed client event. The
	// connection stays open.
	EventError EventType = "error"
)

// Frame is the envelope for every frame pushed to a client.
type Frame struct {
	// Event identifies the kind of payload so the client can route it.
	Event EventType `json:"event"`

	// Data carries the event-specific payload, one of the *Payload structs
	// below.
	Data any `json:"data"`
}

// marshalFrame serialises one envelope. Frames are marshalled exactly once
// per dispatch and the resulting bytes are shared across all recipients.
func marshalFrame(event EventType, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

// ConnectedPayload is the registry's acknowledgement of a new connection.
type ConnectedPayload struct {
	Message   string    `json:"message"`
	SocketID  string    `json:"socketId"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthenticatedPayload reports the outcome of an authenticate request.
type AuthenticatedPayload struct {
	Success bool     `json:"success"`
	User    Identity `json:"user"`
}

// RoomJoinedPayload acknowledges a room join to the joiner.
type RoomJoinedPayload struct {
	Room string `json:"room"`
}

// RoomLeftPayload acknowledges a room leave to the leaver.
type RoomLeftPayload struct {
	Room string `json:"room"`
}

// UserJoinedPayload announces a peer's arrival to existing room members.
type UserJoinedPayload struct {
	SocketID string `json:"socketId"`
	Room     string `json:"room"`
}

// UserLeftPayload announces a peer's departure to remaining room members.
type UserLeftPayload struct {
	SocketID string `json:"socketId"`
	Room     string `json:"room"`
}

// SubscribedPayload acknowledges a typed subscription.
type SubscribedPayload struct {
	Type    string         `json:"type"`
	Filters map[string]any `json:"filters"`
	Room    string         `json:"room"`
}

// UnsubscribedPayload acknowledges removal of a typed subscription.
type UnsubscribedPayload struct {
	Type    string         `json:"type"`
	Filters map[string]any `json:"filters"`
}

// BroadcastPayload is delivered to every client on a global broadcast.
// SenderID is set when the broadcast originated from another client's
// socket; control-surface broadcasts leave it empty.
type BroadcastPayload struct {
	Data      any       `json:"data"`
	SenderID  string    `json:"senderId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomMessagePayload is delivered to every member of the addressed room.
type RoomMessagePayload struct {
	Room      string    `json:"room"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// DirectMessagePayload is delivered to exactly one connection.
type DirectMessagePayload struct {
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// DataUpdatePayload is delivered to subscribers of a matching typed
// subscription. Filters echoes the filter set the update was published
// under, which is by construction the set the subscriber asked for.
type DataUpdatePayload struct {
	Type      string         `json:"type"`
	Data      any            `json:"data"`
	Filters   map[string]any `json:"filters"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorPayload reports a rejected client event.
type ErrorPayload struct {
	Message string `json:"message"`
}
