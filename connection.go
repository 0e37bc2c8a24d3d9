package iec61850

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// ServerConnection identifies one client association. The transport layer
// creates it when a client connects and reports its closure to the mapping.
type ServerConnection struct {
	id   uuid.UUID
	peer string
}

func NewServerConnection(peerAddress string) *ServerConnection {
	return &ServerConnection{id: uuid.New(), peer: peerAddress}
}

func (c *ServerConnection) ID() uuid.UUID {
	return c.id
}

func (c *ServerConnection) PeerAddress() string {
	return c.peer
}

func (c *ServerConnection) String() string {
	if c == nil {
		return "local"
	}
	return c.peer + " (" + c.id.String() + ")"
}

// ownerBytes is the value stored in the Owner attribute of a control block
// bound to this connection: the client IP address, or the connection ID if
// the peer address is not an IP.
func (c *ServerConnection) ownerBytes() []byte {
	host, _, err := net.SplitHostPort(c.peer)
	if err != nil {
		host = c.peer
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4
		}
		return ip
	}
	return c.id[:]
}

type ConnectionEvent int

const (
	CONNECTION_OPENED ConnectionEvent = iota
	CONNECTION_CLOSED
)

// ConnectionIndicationHandler is called after a connection was opened or,
// once its control blocks have been released, closed.
type ConnectionIndicationHandler func(conn *ServerConnection, event ConnectionEvent)

type indicationHandler struct {
	id      int32
	handler ConnectionIndicationHandler
}

type connectionRegistry struct {
	mu       sync.RWMutex
	open     map[uuid.UUID]*ServerConnection
	handlers []indicationHandler
	nextID   atomic.Int32
}

// SetConnectionIndicationHandler registers a handler and returns its ID for
// RemoveConnectionIndicationHandler. Handlers run in registration order.
func (m *DeviceMapping) SetConnectionIndicationHandler(handler ConnectionIndicationHandler) int32 {
	if handler == nil {
		return 0
	}
	r := &m.connections
	id := r.nextID.Inc()
	r.mu.Lock()
	r.handlers = append(r.handlers, indicationHandler{id: id, handler: handler})
	r.mu.Unlock()
	return id
}

func (m *DeviceMapping) RemoveConnectionIndicationHandler(id int32) {
	r := &m.connections
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.handlers {
		if h.id == id {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return
		}
	}
}

func (r *connectionRegistry) indicate(conn *ServerConnection, event ConnectionEvent) {
	r.mu.RLock()
	handlers := make([]indicationHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()
	for _, h := range handlers {
		h.handler(conn, event)
	}
}

// ConnectionOpened registers a new client association.
func (m *DeviceMapping) ConnectionOpened(conn *ServerConnection) {
	if conn == nil {
		return
	}
	r := &m.connections
	r.mu.Lock()
	if r.open == nil {
		r.open = make(map[uuid.UUID]*ServerConnection)
	}
	r.open[conn.id] = conn
	r.mu.Unlock()
	m.log.Info().Str("peer", conn.peer).Str("connection", conn.id.String()).Msg("connection opened")
	r.indicate(conn, CONNECTION_OPENED)
}

// ConnectionClosed releases every report control block bound to conn before
// it returns. Enabled blocks are disabled, their owner is cleared and
// unbuffered blocks lose their reservation.
func (m *DeviceMapping) ConnectionClosed(conn *ServerConnection) {
	if conn == nil {
		return
	}
	m.mu.Lock()
	released := 0
	for _, rc := range m.reportControls {
		if rc.deactivateForConnection(conn) {
			released++
		}
	}
	m.mu.Unlock()

	r := &m.connections
	r.mu.Lock()
	delete(r.open, conn.id)
	r.mu.Unlock()

	m.log.Info().Str("peer", conn.peer).Str("connection", conn.id.String()).
		Int("releasedRCBs", released).Msg("connection closed")
	r.indicate(conn, CONNECTION_CLOSED)
}

// Connections returns the currently open connections.
func (m *DeviceMapping) Connections() []*ServerConnection {
	r := &m.connections
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServerConnection, 0, len(r.open))
	for _, c := range r.open {
		out = append(out, c)
	}
	return out
}
