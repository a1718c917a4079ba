package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/episensor/app-template/internal/metrics"
)

// ErrNotConnected is returned by operations that target a specific connection
// id when no live connection with that id is registered.
var ErrNotConnected = errors.New("connection not registered")

// Transport is the write side of one live client connection. The hub never
// blocks on a transport: Send must enqueue without waiting and report false
// when the peer's buffer is full or the transport is already closed.
//
// Close tears the underlying socket down asynchronously. It must be safe to
// call more than once; only the first call's reason reaches the peer.
type Transport interface {
	Send(frame []byte) bool
	Close(reason string)
}

// Identity is the application-level identity attached to a connection by
// Authenticate. Connections start anonymous: empty username, no roles.
type Identity struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// ConnectionInfo is a point-in-time snapshot of one registered connection,
// safe to hand to HTTP handlers without further locking.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Roles       []string  `json:"roles"`
	ConnectedAt time.Time `json:"connectedAt"`
	Rooms       []string  `json:"rooms"`
}

// RoomInfo describes one occupied room for the control surface.
type RoomInfo struct {
	Name        string `json:"name"`
	ClientCount int    `json:"clientCount"`
}

// connection is the internal registry record. All fields are guarded by the
// hub mutex; transport is the only one touched outside it, and transports
// are safe for concurrent use.
type connection struct {
	id          string
	transport   Transport
	identity    Identity
	connectedAt time.Time
	rooms       map[string]struct{}
}

// target pairs a connection id with its transport for fan-out after the
// lock is released.
type target struct {
	id        string
	transport Transport
}

// Hub owns every piece of realtime state: the connection registry, the room
// membership tables, and the registration order.
//
// # Design: one guarded state object
//
// The registry and the room tables always change together (a disconnect
// mutates both), so they live behind a single RWMutex and every mutation
// happens while it is held. Fan-out never does: deliver paths copy the
// target transports under a read lock, release it, then enqueue the frame
// bytes onto each per-client buffer. A client whose buffer is full is too
// slow to keep up and is disconnected so it cannot stall the others.
//
// Frames enqueued for one connection reach the wire in enqueue order; there
// is no cross-connection or cross-publisher ordering.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*connection
	order []string // connection ids, oldest first

	// rooms maps room name to member id set. Rooms exist only while
	// occupied: the last leave or disconnect deletes the entry.
	rooms map[string]map[string]struct{}

	logger *zap.Logger
}

// New creates an empty hub. The hub has no background goroutines; it is
// ready for use immediately.
func New(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*connection),
		rooms:  make(map[string]map[string]struct{}),
		logger: logger.Named("hub"),
	}
}

// Register admits a new transport into the registry, assigns it an opaque
// connection id, and pushes the connection acknowledgement frame to the
// peer. The returned snapshot carries the assigned id.
func (h *Hub) Register(t Transport) ConnectionInfo {
	c := &connection{
		id:          uuid.NewString(),
		transport:   t,
		identity:    Identity{Roles: []string{}},
		connectedAt: time.Now().UTC(),
		rooms:       make(map[string]struct{}),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.order = append(h.order, c.id)
	total := len(h.conns)
	info := snapshotLocked(c)
	h.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	h.logger.Info("client connected",
		zap.String("connection_id", c.id),
		zap.Int("total_connected", total),
	)

	h.enqueue(target{id: c.id, transport: t}, h.frame(EventConnected, ConnectedPayload{
		Message:   "connected",
		SocketID:  c.id,
		Timestamp: c.connectedAt,
	}))
	return info
}

// Authenticate attaches an identity to a registered connection, replacing
// any previous one. The identity is normalised so it always serialises with
// a roles array, never null. Unknown ids are a no-op: the transport may
// already be gone, which is not an error the caller can act on.
func (h *Hub) Authenticate(id string, ident Identity) (Identity, bool) {
	if ident.Roles == nil {
		ident.Roles = []string{}
	}

	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		c.identity = ident
	}
	h.mu.Unlock()

	if !ok {
		return Identity{}, false
	}
	h.logger.Info("client authenticated",
		zap.String("connection_id", id),
		zap.String("username", ident.Username),
	)
	return ident, true
}

// Info returns a snapshot of one connection.
func (h *Hub) Info(id string) (ConnectionInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	return snapshotLocked(c), true
}

// Connections returns snapshots of every registered connection in
// registration order, oldest first.
func (h *Hub) Connections() []ConnectionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ConnectionInfo, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, snapshotLocked(h.conns[id]))
	}
	return out
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// IsConnected reports whether id is currently registered.
func (h *Hub) IsConnected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

// Remove deletes a connection and cascades the departure: the id leaves
// every room it was a member of, remaining members are told, and rooms left
// empty are deleted. Removing an unknown id is a no-op, so the natural
// disconnect path and the forced one can both call it without coordination.
func (h *Hub) Remove(id string) {
	type farewell struct {
		frame   []byte
		targets []target
	}

	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, id)
	for i, oid := range h.order {
		if oid == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}

	var farewells []farewell
	for room := range c.rooms {
		members := h.rooms[room]
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, room)
			continue
		}
		farewells = append(farewells, farewell{
			frame:   h.frame(EventUserLeft, UserLeftPayload{SocketID: id, Room: room}),
			targets: h.targetsLocked(members),
		})
	}
	total := len(h.conns)
	h.syncRoomGaugeLocked()
	h.mu.Unlock()

	c.transport.Close("")
	for _, f := range farewells {
		h.fanOut(f.targets, f.frame)
	}

	metrics.ConnectionsActive.Dec()
	h.logger.Info("client disconnected",
		zap.String("connection_id", id),
		zap.Duration("session_duration", time.Since(c.connectedAt)),
		zap.Int("total_connected", total),
	)
}

// JoinRoom adds a connection to a named room, creating the room on first
// join. The joiner gets a room-joined acknowledgement; every member that was
// already present gets a user-joined announcement. Joining a room the
// connection is already in re-sends the acknowledgement and nothing else.
// Returns false when id is not registered.
func (h *Hub) JoinRoom(id, room string) bool {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	self := target{id: id, transport: c.transport}
	_, already := c.rooms[room]

	// Snapshot the members before the join so the announcement never
	// reaches the joiner itself.
	var peers []target
	if !already {
		members := h.rooms[room]
		if members == nil {
			members = make(map[string]struct{})
			h.rooms[room] = members
		}
		peers = h.targetsLocked(members)
		members[id] = struct{}{}
		c.rooms[room] = struct{}{}
	}
	memberCount := len(h.rooms[room])
	h.syncRoomGaugeLocked()
	h.mu.Unlock()

	h.enqueue(self, h.frame(EventRoomJoined, RoomJoinedPayload{Room: room}))
	if already {
		return true
	}
	h.fanOut(peers, h.frame(EventUserJoined, UserJoinedPayload{SocketID: id, Room: room}))

	h.logger.Debug("room joined",
		zap.String("connection_id", id),
		zap.String("room", room),
		zap.Int("member_count", memberCount),
	)
	return true
}

// LeaveRoom removes a connection from a room. The leaver always gets the
// room-left acknowledgement; remaining members get user-left only when the
// connection really was a member. Leaving a room it never joined changes
// nothing for anyone else. Returns false when id is not registered.
func (h *Hub) LeaveRoom(id, room string) bool {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	self := target{id: id, transport: c.transport}
	_, wasMember := c.rooms[room]

	var remaining []target
	if wasMember {
		delete(c.rooms, room)
		members := h.rooms[room]
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, room)
		} else {
			remaining = h.targetsLocked(members)
		}
	}
	h.syncRoomGaugeLocked()
	h.mu.Unlock()

	h.enqueue(self, h.frame(EventRoomLeft, RoomLeftPayload{Room: room}))
	if wasMember {
		h.fanOut(remaining, h.frame(EventUserLeft, UserLeftPayload{SocketID: id, Room: room}))
	}
	return true
}

// MembersOf returns the ids currently in room, sorted for stable output.
// A missing room yields an empty slice.
func (h *Hub) MembersOf(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Rooms lists every occupied room with its member count, sorted by name.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for name, members := range h.rooms {
		out = append(out, RoomInfo{Name: name, ClientCount: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BroadcastAll enqueues frame for every registered connection and returns
// the number of clients it was queued for.
func (h *Hub) BroadcastAll(frame []byte) int {
	h.mu.RLock()
	targets := make([]target, 0, len(h.conns))
	for id, c := range h.conns {
		targets = append(targets, target{id: id, transport: c.transport})
	}
	h.mu.RUnlock()
	return h.fanOut(targets, frame)
}

// DeliverRoom enqueues frame for every member of room. Delivery to a missing
// or empty room is reported as zero recipients, not an error.
func (h *Hub) DeliverRoom(room string, frame []byte) int {
	h.mu.RLock()
	targets := h.targetsLocked(h.rooms[room])
	h.mu.RUnlock()
	return h.fanOut(targets, frame)
}

// SendTo enqueues frame for a single connection. ErrNotConnected when id is
// not registered.
func (h *Hub) SendTo(id string, frame []byte) error {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotConnected)
	}
	h.enqueue(target{id: id, transport: c.transport}, frame)
	return nil
}

// Disconnect forcibly terminates a connection. The peer receives a close
// frame carrying reason, then the registry cascade runs exactly as it would
// for a natural disconnect. ErrNotConnected when id is not registered.
func (h *Hub) Disconnect(id, reason string) error {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotConnected)
	}

	h.logger.Info("forcing disconnect",
		zap.String("connection_id", id),
		zap.String("reason", reason),
	)
	c.transport.Close(reason)
	h.Remove(id)
	return nil
}

// Shutdown closes every live transport and resets the registry. Used by the
// server's graceful-stop path. No departure announcements are sent; every
// recipient is going away too.
func (h *Hub) Shutdown(reason string) {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*connection)
	h.order = nil
	h.rooms = make(map[string]map[string]struct{})
	h.syncRoomGaugeLocked()
	h.mu.Unlock()

	for _, c := range conns {
		c.transport.Close(reason)
	}
	if len(conns) > 0 {
		metrics.ConnectionsActive.Sub(float64(len(conns)))
		h.logger.Info("hub shut down", zap.Int("closed_connections", len(conns)))
	}
}

// frame marshals one envelope, logging instead of failing: a marshal error
// here is a programming bug, not a runtime condition worth propagating.
// Deliver helpers treat a nil frame as a no-op.
func (h *Hub) frame(event EventType, data any) []byte {
	b, err := marshalFrame(event, data)
	if err != nil {
		h.logger.Error("envelope marshal failed",
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return nil
	}
	return b
}

// enqueue pushes one frame to a single transport. A full buffer means the
// client is too slow to keep up; it is disconnected so it does not stall
// delivery to the others. Reports whether the frame was queued.
func (h *Hub) enqueue(t target, frame []byte) bool {
	if frame == nil {
		return false
	}
	if t.transport.Send(frame) {
		metrics.FramesEnqueued.Inc()
		return true
	}

	metrics.SlowClientDrops.Inc()
	h.logger.Warn("send buffer full, dropping client", zap.String("connection_id", t.id))
	t.transport.Close("slow consumer")
	h.Remove(t.id)
	return false
}

// fanOut enqueues frame for each target and returns how many accepted it.
// Callers must not hold the hub mutex: a slow target is removed inline.
func (h *Hub) fanOut(targets []target, frame []byte) int {
	n := 0
	for _, t := range targets {
		if h.enqueue(t, frame) {
			n++
		}
	}
	return n
}

// targetsLocked copies a member set into fan-out targets. Callers hold the
// hub mutex; ids in member sets always resolve in conns.
func (h *Hub) targetsLocked(members map[string]struct{}) []target {
	out := make([]target, 0, len(members))
	for id := range members {
		if c, ok := h.conns[id]; ok {
			out = append(out, target{id: id, transport: c.transport})
		}
	}
	return out
}

func (h *Hub) syncRoomGaugeLocked() {
	metrics.RoomsActive.Set(float64(len(h.rooms)))
}

func snapshotLocked(c *connection) ConnectionInfo {
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	roles := make([]string, len(c.identity.Roles))
	copy(roles, c.identity.Roles)

	return ConnectionInfo{
		ID:          c.id,
		Username:    c.identity.Username,
		Roles:       roles,
		ConnectedAt: c.connectedAt,
		Rooms:       rooms,
	}
}
