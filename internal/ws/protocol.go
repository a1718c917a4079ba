package ws

import (
	"github.com/goccy/go-json"
)

// Client-to-server event names. The server answers with the envelope
// vocabulary defined in the hub package.
const (
	evAuthenticate = "authenticate"
	evJoinRoom     = "join-room"
	evLeaveRoom    = "leave-room"
	evMessage      = "message"
	evSubscribe    = "subscribe"
	evUnsubscribe  = "unsubscribe"
)

// clientEvent is the envelope for every frame received from a client. Data
// stays raw until the event name selects a payload shape.
type clientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type authenticatePayload struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// roomPayload is shared by join-room and leave-room.
type roomPayload struct {
	Room string `json:"room"`
}

// subscriptionPayload is shared by subscribe and unsubscribe.
type subscriptionPayload struct {
	Type    string         `json:"type"`
	Filters map[string]any `json:"filters"`
}
