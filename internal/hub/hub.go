package hub

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"spacehub/internal/message"
	"spacehub/internal/metrics"
	"spacehub/internal/model"
)

var ErrClosed = errors.New("connection closed")

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Connection is one client connection as seen by the spaces. UserID is the
// account from the token; SpaceUserID is the id this connection is present
// under in every space it joins.
type Connection struct {
	ID          string
	UserID      int64
	SpaceUserID int64
	Name        string
	World       string
	Tags        []string
	Writer      Writer

	mu     sync.Mutex
	closed bool
}

func (c *Connection) IsAdmin() bool {
	for _, t := range c.Tags {
		if t == model.AdminTag {
			return true
		}
	}
	return false
}

// Emit hands msg to the connection writer. It never blocks on the network;
// after Close it returns ErrClosed without writing.
func (c *Connection) Emit(msg message.Server) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		metrics.Dropped(metrics.ReasonConnClosed)
		return ErrClosed
	}
	if err := c.Writer.Write(data); err != nil {
		metrics.Dropped(metrics.ReasonWriteFailed)
		return err
	}
	metrics.Notifications.WithLabelValues(msg.Type).Inc()
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Writer.Close()
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// NewSpaceUserID returns a random id in (0, 2^53), so ids stay exact for
// clients that decode JSON numbers as doubles. Gateways draw ids
// independently; the space is large enough that they do not collide.
func NewSpaceUserID() int64 {
	id := uuid.New()
	n := int64(binary.BigEndian.Uint64(id[:8]) & (1<<53 - 1))
	if n == 0 {
		return 1
	}
	return n
}

// Hub indexes live connections by id.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

func New() *Hub {
	return &Hub{connections: make(map[string]*Connection)}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn.ID]; !ok {
		metrics.Connections.Inc()
	}
	h.connections[conn.ID] = conn
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.ID] != conn {
		return
	}
	delete(h.connections, conn.ID)
	metrics.Connections.Dec()
}

// Get resolves a connection id. Closed connections are reported as absent.
func (h *Hub) Get(id string) (*Connection, bool) {
	if id == "" {
		return nil, false
	}
	h.mu.RLock()
	conn, ok := h.connections[id]
	h.mu.RUnlock()
	if !ok || conn.Closed() {
		return nil, false
	}
	return conn, true
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// CloseAll closes and unregisters every connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.connections = make(map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
		metrics.Connections.Dec()
	}
}
