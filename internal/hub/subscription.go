package hub

import (
	"encoding/json"
)

// SubscriptionKey derives the room name backing a typed subscription. The
// same type and the same filter values must map to the same room no matter
// how the sender happened to order the filter object, so the filters are
// serialised with encoding/json, which writes map keys in sorted order at
// every nesting level. Nil filters normalise to the empty object.
//
//	SubscriptionKey("metrics", map[string]any{"interval": 5, "device": "plant-1"})
//	  == `metrics_{"device":"plant-1","interval":5}`
func SubscriptionKey(subType string, filters map[string]any) string {
	if filters == nil {
		filters = map[string]any{}
	}
	b, err := json.Marshal(filters)
	if err != nil {
		// Filters decoded from a JSON request always re-marshal; this path
		// guards programmatic callers passing unmarshalable values.
		return subType + "_{}"
	}
	return subType + "_" + string(b)
}

// Subscribe adds the connection to the room derived from the subscription
// type and filter set. Membership is silent: no presence announcements are
// sent, the caller acknowledges with its own subscribed frame. Returns the
// derived room name, and false when id is not registered.
func (h *Hub) Subscribe(id, subType string, filters map[string]any) (string, bool) {
	room := SubscriptionKey(subType, filters)

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return room, false
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[id] = struct{}{}
	c.rooms[room] = struct{}{}
	h.syncRoomGaugeLocked()
	return room, true
}

// Unsubscribe removes the connection from the derived subscription room,
// deleting the room when it empties. Silent like Subscribe; unsubscribing
// from a subscription that was never made is a no-op.
func (h *Hub) Unsubscribe(id, subType string, filters map[string]any) (string, bool) {
	room := SubscriptionKey(subType, filters)

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return room, false
	}
	delete(c.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.syncRoomGaugeLocked()
	return room, true
}
