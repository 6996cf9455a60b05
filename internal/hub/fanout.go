package hub

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/mossy-p/camera-signaling/internal/models"
)

func (h *Hub) videoFrame(c *Conn, env models.Envelope) error {
	role, cameraID := c.snapshot()
	if role != RoleStreamer {
		return fmt.Errorf("%w: only streamers may send video frames", ErrProtocolViolation)
	}
	if env.Frame == "" {
		return fmt.Errorf("%w: frame is required", ErrProtocolViolation)
	}
	if h.detector == nil {
		return fmt.Errorf("%w: detection is not configured", ErrCollaboratorFailure)
	}

	frame, err := DecodeFrame(env.Frame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	cameraName := env.CameraName
	if cameraName == "" {
		cameraName = cameraID
	}

	h.dispatchDetection(c, DetectRequest{
		CameraID:   cameraID,
		CameraName: cameraName,
		Frame:      frame,
	})
	return nil
}

// dispatchDetection runs inference off the connection's read path. The
// task is bound to the connection's lifetime: closing the connection
// cancels it and its result is never fanned out afterwards.
func (h *Hub) dispatchDetection(c *Conn, req DetectRequest) {
	if !c.acquireDetection(int32(h.opts.MaxInflightPerConn)) {
		h.log.Debug().Str("conn_id", c.ID).Str("camera_id", req.CameraID).Msg("Detection busy, dropping frame")
		return
	}

	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		defer c.releaseDetection()

		select {
		case h.workers <- struct{}{}:
		case <-c.ctx.Done():
			return
		}
		defer func() { <-h.workers }()

		ctx, cancel := context.WithTimeout(c.ctx, h.opts.DetectionTimeout)
		defer cancel()

		start := time.Now()
		detections, err := h.detector.Detect(ctx, req)
		if c.ctx.Err() != nil {
			h.log.Debug().Str("conn_id", c.ID).Msg("Dropping detection for closed connection")
			return
		}
		if err != nil {
			h.log.Warn().
				Err(fmt.Errorf("%w: %v", ErrCollaboratorFailure, err)).
				Str("camera_id", req.CameraID).
				Msg("Detection failed, treating frame as empty")
			detections = nil
		}

		event := models.NewDetectionEvent(req.CameraID, req.CameraName, detections)
		delivered := h.groups.BroadcastToViewers(req.CameraID, event, c)

		h.log.Debug().
			Str("camera_id", req.CameraID).
			Int("detections", len(event.Detections)).
			Int("viewers", delivered).
			Dur("took", time.Since(start)).
			Msg("Detection fanned out")
	}()
}

// PublishDetections fans a detection event produced outside the hub out to
// the viewers of its camera. It returns the number of viewers reached.
func (h *Hub) PublishDetections(event models.DetectionEvent) int {
	if event.CameraID == "" {
		return 0
	}
	event.Action = models.ActionDetections
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Detections == nil {
		event.Detections = []models.Detection{}
	}
	return h.groups.BroadcastToViewers(event.CameraID, event, nil)
}

// DecodeFrame accepts raw base64 or a data URL such as
// "data:image/jpeg;base64,...".
func DecodeFrame(frame string) ([]byte, error) {
	if strings.HasPrefix(frame, "data:") {
		comma := strings.IndexByte(frame, ',')
		if comma < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		frame = frame[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(frame)
	if err != nil {
		return nil, fmt.Errorf("frame is not valid base64")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("frame is empty")
	}
	return data, nil
}
