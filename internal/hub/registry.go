package hub

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks every live connection by its identifier
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
	}
}

// Register assigns the connection a fresh identifier and starts tracking it
func (r *Registry) Register(c *Conn) string {
	c.ID = uuid.New().String()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
	return c.ID
}

// SetRoleAndCamera fixes the role and camera of a connection. The first
// assignment wins; repeating it with the same values is a no-op and any
// conflicting assignment is rejected.
func (r *Registry) SetRoleAndCamera(id string, role Role, cameraID string) error {
	if role != RoleStreamer && role != RoleViewer {
		return fmt.Errorf("%w: invalid role %q", ErrProtocolViolation, role)
	}
	if cameraID == "" {
		return fmt.Errorf("%w: camera_id is required", ErrProtocolViolation)
	}

	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: connection %s is not registered", ErrRoutingMiss, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return fmt.Errorf("%w: connection %s is closing", ErrTransportFailure, id)
	}

	switch {
	case c.role == RoleUnassigned:
		c.role = role
		c.cameraID = cameraID
		return nil
	case c.role == role && c.cameraID == cameraID:
		return nil
	default:
		return fmt.Errorf("%w: connection already joined camera %s as %s", ErrProtocolViolation, c.cameraID, c.role)
	}
}

func (r *Registry) Lookup(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Deregister stops tracking the connection and reports its last role and
// camera. Unknown identifiers are ignored.
func (r *Registry) Deregister(id string) (Role, string, bool) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return RoleUnassigned, "", false
	}
	role, cameraID := c.snapshot()
	return role, cameraID, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// All returns a snapshot of the live connections
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
