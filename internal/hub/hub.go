// Package hub tracks live signaling connections, groups them per camera,
// relays WebRTC handshakes and fans detection results out to viewers.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mossy-p/camera-signaling/internal/logging"
	"github.com/mossy-p/camera-signaling/internal/models"
	"github.com/rs/zerolog"
)

// DetectRequest is one frame handed to the detection collaborator
type DetectRequest struct {
	CameraID   string
	CameraName string
	Frame      []byte
}

// Detector runs inference on a frame. Implementations may block for a
// long time and must honour ctx cancellation.
type Detector interface {
	Detect(ctx context.Context, req DetectRequest) ([]models.Detection, error)
}

type Options struct {
	SendBufferSize     int
	DetectionWorkers   int
	DetectionTimeout   time.Duration
	MaxInflightPerConn int
}

// DefaultOptions returns the settings used when a field is left zero
func DefaultOptions() Options {
	return Options{
		SendBufferSize:     256,
		DetectionWorkers:   4,
		DetectionTimeout:   20 * time.Second,
		MaxInflightPerConn: 1,
	}
}

// Hub pairs streamers with viewers per camera, relays signaling between
// them and fans detection results out to viewers.
type Hub struct {
	registry *Registry
	groups   *Groups
	detector Detector
	opts     Options
	log      zerolog.Logger

	workers chan struct{}
	tasks   sync.WaitGroup
	stopped atomic.Bool
}

// Stats is a point-in-time view of hub occupancy
type Stats struct {
	Connections int `json:"connections"`
	Cameras     int `json:"cameras"`
	Streamers   int `json:"streamers"`
	Viewers     int `json:"viewers"`
}

// New creates a hub. detector may be nil, in which case video frames are
// rejected.
func New(detector Detector, opts Options) *Hub {
	defaults := DefaultOptions()
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaults.SendBufferSize
	}
	if opts.DetectionWorkers <= 0 {
		opts.DetectionWorkers = defaults.DetectionWorkers
	}
	if opts.DetectionTimeout <= 0 {
		opts.DetectionTimeout = defaults.DetectionTimeout
	}
	if opts.MaxInflightPerConn <= 0 {
		opts.MaxInflightPerConn = defaults.MaxInflightPerConn
	}

	return &Hub{
		registry: NewRegistry(),
		groups:   NewGroups(),
		detector: detector,
		opts:     opts,
		log:      logging.Component("hub"),
		workers:  make(chan struct{}, opts.DetectionWorkers),
	}
}

// Open registers a newly accepted connection in the unassigned state. After
// Shutdown the connection is returned already closed.
func (h *Hub) Open() *Conn {
	c := newConn(h.opts.SendBufferSize)
	h.registry.Register(c)
	if h.stopped.Load() {
		h.Close(c)
		return c
	}
	h.log.Debug().Str("conn_id", c.ID).Msg("Connection opened")
	return c
}

// Close tears a connection down. It is safe to call from several code
// paths at once; cleanup and departure notifications run exactly once.
func (h *Hub) Close(c *Conn) {
	c.closeOnce.Do(func() {
		// Cancels pending detections and blocks further joins
		c.markClosing()

		role, cameraID := c.snapshot()
		if cameraID != "" {
			h.groups.Leave(cameraID, c)
		}
		h.registry.Deregister(c.ID)
		c.closeSend()

		h.log.Info().
			Str("conn_id", c.ID).
			Str("role", string(role)).
			Str("camera_id", cameraID).
			Msg("Connection closed")
	})
}

// Lookup resolves a connection identifier
func (h *Hub) Lookup(id string) (*Conn, bool) {
	return h.registry.Lookup(id)
}

// StreamerOf returns the authoritative streamer for a camera
func (h *Hub) StreamerOf(cameraID string) (*Conn, bool) {
	return h.groups.StreamerOf(cameraID)
}

// Members lists the connection identifiers in a camera group
func (h *Hub) Members(cameraID string) []string {
	return h.groups.Members(cameraID)
}

// LiveCameras describes every camera group with at least one member
func (h *Hub) LiveCameras() []CameraSnapshot {
	return h.groups.Snapshot()
}

func (h *Hub) Stats() Stats {
	snaps := h.groups.Snapshot()
	stats := Stats{
		Connections: h.registry.Len(),
		Cameras:     len(snaps),
	}
	for _, s := range snaps {
		stats.Streamers += s.Streamers
		stats.Viewers += s.Viewers
	}
	return stats
}

// Shutdown closes every connection and waits for detection tasks to finish
// or until ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.stopped.Store(true)
	conns := h.registry.All()
	for _, c := range conns {
		h.Close(c)
	}
	h.log.Info().Int("connections", len(conns)).Msg("Hub shut down")

	done := make(chan struct{})
	go func() {
		h.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
