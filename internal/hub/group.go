package hub

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mossy-p/camera-signaling/internal/models"
	"github.com/rs/zerolog/log"
)

type member struct {
	conn *Conn
	role Role
}

// Group holds the connections watching or streaming one camera
type Group struct {
	CameraID string

	mu       sync.RWMutex
	members  map[string]member
	streamer string // authoritative streamer, "" when none
	deleted  bool
}

// Groups owns every camera group. Each group carries its own lock; the
// outer lock only guards the camera index.
type Groups struct {
	mu     sync.Mutex
	groups map[string]*Group
}

// CameraSnapshot describes one camera group at a point in time
type CameraSnapshot struct {
	CameraID  string `json:"camera_id"`
	Streaming bool   `json:"streaming"`
	Streamers int    `json:"streamers"`
	Viewers   int    `json:"viewers"`
}

func NewGroups() *Groups {
	return &Groups{
		groups: make(map[string]*Group),
	}
}

func (gs *Groups) getOrCreate(cameraID string) *Group {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	g, exists := gs.groups[cameraID]
	if !exists {
		g = &Group{
			CameraID: cameraID,
			members:  make(map[string]member),
		}
		gs.groups[cameraID] = g
		log.Debug().Str("camera_id", cameraID).Msg("Created camera group")
	}
	return g
}

func (gs *Groups) get(cameraID string) *Group {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.groups[cameraID]
}

// Join adds the connection to the camera's group, creating the group when
// needed. A joining streamer becomes the authoritative one. The returned
// connection is the authoritative streamer after the join, if any.
func (gs *Groups) Join(cameraID string, c *Conn, role Role) (*Conn, error) {
	for {
		g := gs.getOrCreate(cameraID)

		g.mu.Lock()
		if g.deleted {
			// Lost a race with the last member leaving; retry on a fresh group
			g.mu.Unlock()
			continue
		}
		if c.isClosing() {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: connection %s is closing", ErrTransportFailure, c.ID)
		}

		g.members[c.ID] = member{conn: c, role: role}
		if role == RoleStreamer {
			if g.streamer != "" && g.streamer != c.ID {
				log.Info().
					Str("camera_id", cameraID).
					Str("previous", g.streamer).
					Str("streamer", c.ID).
					Msg("Streamer superseded by newer join")
			}
			g.streamer = c.ID
		}

		var streamer *Conn
		if m, ok := g.members[g.streamer]; ok {
			streamer = m.conn
		}
		g.mu.Unlock()
		return streamer, nil
	}
}

// Leave removes the connection from the camera's group. Departure of the
// authoritative streamer is announced to the viewers, departure of a viewer
// to the authoritative streamer. An empty group is deleted.
func (gs *Groups) Leave(cameraID string, c *Conn) {
	g := gs.get(cameraID)
	if g == nil {
		return
	}

	g.mu.Lock()
	m, ok := g.members[c.ID]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.members, c.ID)

	switch {
	case m.role == RoleStreamer && g.streamer == c.ID:
		g.streamer = ""
		g.deliverLocked(models.SignalMessage{
			Action:   models.ActionStreamerLeft,
			CameraID: cameraID,
		}, func(m member) bool { return m.role == RoleViewer })
	case m.role == RoleViewer && g.streamer != "":
		g.members[g.streamer].conn.sendJSON(models.SignalMessage{
			Action:   models.ActionViewerLeft,
			CameraID: cameraID,
			Viewer:   c.ID,
		})
	}

	empty := len(g.members) == 0
	if empty {
		g.deleted = true
	}
	g.mu.Unlock()

	if empty {
		gs.mu.Lock()
		if gs.groups[cameraID] == g {
			delete(gs.groups, cameraID)
		}
		gs.mu.Unlock()
		log.Debug().Str("camera_id", cameraID).Msg("Removed empty camera group")
	}
}

// Broadcast delivers msg to every member except exclude. Delivery is best
// effort and returns the number of members reached.
func (gs *Groups) Broadcast(cameraID string, msg any, exclude string) int {
	g := gs.get(cameraID)
	if g == nil {
		return 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.deliverLocked(msg, func(m member) bool { return m.conn.ID != exclude })
}

// BroadcastToViewers delivers msg to the viewers of a camera. When origin is
// set the message is dropped unless origin is still a member, so results of
// a departed connection are never fanned out.
func (gs *Groups) BroadcastToViewers(cameraID string, msg any, origin *Conn) int {
	g := gs.get(cameraID)
	if g == nil {
		return 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if origin != nil {
		if _, ok := g.members[origin.ID]; !ok {
			return 0
		}
	}
	return g.deliverLocked(msg, func(m member) bool { return m.role == RoleViewer })
}

// StreamerOf returns the authoritative streamer of a camera
func (gs *Groups) StreamerOf(cameraID string) (*Conn, bool) {
	g := gs.get(cameraID)
	if g == nil {
		return nil, false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.members[g.streamer]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

// Members returns the sorted identifiers of a camera's members
func (gs *Groups) Members(cameraID string) []string {
	g := gs.get(cameraID)
	if g == nil {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot describes every camera group currently alive
func (gs *Groups) Snapshot() []CameraSnapshot {
	gs.mu.Lock()
	groups := make([]*Group, 0, len(gs.groups))
	for _, g := range gs.groups {
		groups = append(groups, g)
	}
	gs.mu.Unlock()

	snaps := make([]CameraSnapshot, 0, len(groups))
	for _, g := range groups {
		g.mu.RLock()
		snap := CameraSnapshot{CameraID: g.CameraID, Streaming: g.streamer != ""}
		for _, m := range g.members {
			if m.role == RoleStreamer {
				snap.Streamers++
			} else {
				snap.Viewers++
			}
		}
		g.mu.RUnlock()
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CameraID < snaps[j].CameraID })
	return snaps
}

// deliverLocked must be called with g.mu held
func (g *Group) deliverLocked(msg any, include func(member) bool) int {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("camera_id", g.CameraID).Msg("Failed to marshal broadcast")
		return 0
	}

	delivered := 0
	for id, m := range g.members {
		if !include(m) {
			continue
		}
		if m.conn.deliver(data) {
			delivered++
		} else {
			log.Debug().Str("camera_id", g.CameraID).Str("conn_id", id).Msg("Broadcast delivery failed")
		}
	}
	return delivered
}
