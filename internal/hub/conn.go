package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Role is the part a connection plays for its camera
type Role string

const (
	RoleUnassigned Role = "unassigned"
	RoleStreamer   Role = "streamer"
	RoleViewer     Role = "viewer"
)

// Conn is a live hub connection. The transport drains Outbound and calls
// Hub.Close when the underlying socket goes away.
type Conn struct {
	ID string

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	inflight  atomic.Int32
	closeOnce sync.Once

	mu         sync.Mutex
	role       Role
	cameraID   string
	closing    bool
	sendClosed bool
}

func newConn(sendBuffer int) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		role:   RoleUnassigned,
	}
}

// Outbound yields serialized messages for the peer. It is closed once the
// connection has been cleaned up.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done is closed when the connection starts closing
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Conn) CameraID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraID
}

func (c *Conn) snapshot() (Role, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, c.cameraID
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Conn) markClosing() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.cancel()
}

// deliver queues data without blocking. A full buffer or a finished
// connection drops the message.
func (c *Conn) deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		log.Warn().Str("conn_id", c.ID).Msg("Failed to send message, buffer full")
		return false
	}
}

func (c *Conn) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("conn_id", c.ID).Msg("Failed to marshal message")
		return false
	}
	return c.deliver(data)
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Conn) acquireDetection(limit int32) bool {
	if c.inflight.Add(1) > limit {
		c.inflight.Add(-1)
		return false
	}
	return true
}

func (c *Conn) releaseDetection() {
	c.inflight.Add(-1)
}
