package hub

import (
	"sync"

	"github.com/google/uuid"
)

// Publisher is the narrow surface the chat services use for fan-out. They
// never touch connection or room state directly.
type Publisher interface {
	Publish(room string, ev Event)
	PublishUser(userID string, ev Event)
}

// UserRoom is the implicit per-user room, joined on connect and left on
// full disconnect.
func UserRoom(userID string) string {
	return "user:" + userID
}

// ChannelRoom is an arbitrary named broadcast room for non-chat fan-out.
func ChannelRoom(name string) string {
	return "channel:" + name
}

// PresenceRoom carries user_status transition events to every connection.
const PresenceRoom = "presence"

const sendBuffer = 64

// Conn is one live connection registered with the hub. Events are delivered
// through a buffered channel; a full buffer drops the event rather than
// blocking the publisher.
type Conn struct {
	ID     string
	UserID string
	send   chan Event
	closed bool
}

// Events is the outbound stream consumed by the connection's write loop.
// The channel is closed when the connection is unregistered.
func (c *Conn) Events() <-chan Event {
	return c.send
}

// Hub is the named-room pub/sub registry. It is constructed at process
// start and injected into the connection handler; there is no package-level
// instance.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Conn
	rooms map[string]map[string]*Conn
	// joined mirrors rooms from the connection side so a disconnect can
	// leave everything without scanning all rooms.
	joined map[string]map[string]struct{}
}

func New() *Hub {
	return &Hub{
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
		joined: make(map[string]map[string]struct{}),
	}
}

// Register creates a connection for userID and joins its personal room and
// the presence room.
func (h *Hub) Register(userID string) *Conn {
	conn := &Conn{
		ID:     uuid.New().String(),
		UserID: userID,
		send:   make(chan Event, sendBuffer),
	}

	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.joined[conn.ID] = make(map[string]struct{})
	h.joinLocked(conn, UserRoom(userID))
	h.joinLocked(conn, PresenceRoom)
	h.mu.Unlock()

	openConnections.Inc()
	return conn
}

// Unregister removes the connection from every room and closes its event
// stream. Safe to call once per connection.
func (h *Hub) Unregister(conn *Conn) {
	h.mu.Lock()
	if conn.closed {
		h.mu.Unlock()
		return
	}
	conn.closed = true
	for room := range h.joined[conn.ID] {
		h.leaveLocked(conn, room)
	}
	delete(h.joined, conn.ID)
	delete(h.conns, conn.ID)
	close(conn.send)
	h.mu.Unlock()

	openConnections.Dec()
}

func (h *Hub) Join(conn *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn.closed {
		return
	}
	h.joinLocked(conn, room)
}

func (h *Hub) Leave(conn *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn.closed {
		return
	}
	h.leaveLocked(conn, room)
}

func (h *Hub) joinLocked(conn *Conn, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[conn.ID] = conn
	h.joined[conn.ID][room] = struct{}{}
}

func (h *Hub) leaveLocked(conn *Conn, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.joined[conn.ID], room)
}

// Publish delivers ev to every connection currently joined to room, in the
// order publishes happen. A room with no members is a no-op. Delivery is
// fire-and-forget: a connection whose buffer is full misses the event.
func (h *Hub) Publish(room string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[room]
	if len(members) == 0 {
		return
	}
	publishedEvents.WithLabelValues(ev.Name).Inc()
	for _, conn := range members {
		select {
		case conn.send <- ev:
		default:
			droppedDeliveries.Inc()
		}
	}
}

// PublishUser delivers ev to every connection of one user.
func (h *Hub) PublishUser(userID string, ev Event) {
	h.Publish(UserRoom(userID), ev)
}

// JoinUser joins every live connection of userID to room. Connections only
// learn their rooms at registration time, so rooms created afterwards must
// attach existing connections through here.
func (h *Hub) JoinUser(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.rooms[UserRoom(userID)] {
		h.joinLocked(conn, room)
	}
}

// Deliver sends ev to this single connection, bypassing room membership.
// Used for connection-scoped replies such as the presence snapshot and
// protocol errors.
func (h *Hub) Deliver(conn *Conn, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn.closed {
		return
	}
	select {
	case conn.send <- ev:
	default:
		droppedDeliveries.Inc()
	}
}
