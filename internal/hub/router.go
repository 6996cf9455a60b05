package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mossy-p/camera-signaling/internal/models"
)

const notStreamingMessage = "Camera is not streaming"

// HandleMessage routes one inbound message from c. Failures are answered
// with an error message to the sender and returned for logging; none of
// them closes the connection.
func (h *Hub) HandleMessage(c *Conn, raw []byte) error {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return h.reject(c, fmt.Errorf("%w: invalid JSON", ErrProtocolViolation))
	}

	var err error
	switch env.Action {
	case models.ActionStreamerJoin:
		err = h.streamerJoin(c, env)
	case models.ActionViewerJoin:
		err = h.viewerJoin(c, env)
	case models.ActionOffer, models.ActionAnswer, models.ActionCandidate:
		err = h.relay(c, env, raw)
	case models.ActionVideoFrame:
		err = h.videoFrame(c, env)
	case "":
		err = fmt.Errorf("%w: action is required", ErrProtocolViolation)
	default:
		err = fmt.Errorf("%w: unknown action %q", ErrProtocolViolation, env.Action)
	}

	if err != nil {
		return h.reject(c, err)
	}
	return nil
}

func (h *Hub) reject(c *Conn, err error) error {
	h.log.Debug().Err(err).Str("conn_id", c.ID).Msg("Rejected message")
	if !errors.Is(err, ErrTransportFailure) {
		c.sendJSON(models.SignalMessage{
			Action:  models.ActionError,
			Message: err.Error(),
		})
	}
	return err
}

func (h *Hub) join(c *Conn, role Role, cameraID string) (*Conn, error) {
	if c.isClosing() {
		return nil, fmt.Errorf("%w: connection %s is closed", ErrTransportFailure, c.ID)
	}
	if current := c.Role(); current != RoleUnassigned {
		return nil, fmt.Errorf("%w: connection already joined as %s", ErrProtocolViolation, current)
	}
	if err := h.registry.SetRoleAndCamera(c.ID, role, cameraID); err != nil {
		return nil, err
	}
	return h.groups.Join(cameraID, c, role)
}

func (h *Hub) streamerJoin(c *Conn, env models.Envelope) error {
	if _, err := h.join(c, RoleStreamer, env.CameraID); err != nil {
		return err
	}

	h.log.Info().Str("conn_id", c.ID).Str("camera_id", env.CameraID).Msg("Streamer joined")
	c.sendJSON(models.SignalMessage{
		Action:   models.ActionStreamerJoined,
		CameraID: env.CameraID,
	})
	return nil
}

func (h *Hub) viewerJoin(c *Conn, env models.Envelope) error {
	streamer, err := h.join(c, RoleViewer, env.CameraID)
	if err != nil {
		return err
	}

	h.log.Info().Str("conn_id", c.ID).Str("camera_id", env.CameraID).Msg("Viewer joined")

	if streamer == nil {
		// The viewer stays in the group and still receives detections
		c.sendJSON(models.SignalMessage{
			Action:  models.ActionError,
			Message: notStreamingMessage,
		})
		return nil
	}

	if !streamer.sendJSON(models.SignalMessage{
		Action:   models.ActionViewerJoined,
		CameraID: env.CameraID,
		Viewer:   c.ID,
	}) {
		h.log.Warn().Str("streamer", streamer.ID).Str("viewer", c.ID).Msg("Failed to notify streamer of viewer")
	}
	return nil
}

// relay forwards a signaling message verbatim to its target with the
// sender's identifier attached.
func (h *Hub) relay(c *Conn, env models.Envelope, raw []byte) error {
	if c.Role() == RoleUnassigned {
		return fmt.Errorf("%w: join a camera before sending %s", ErrProtocolViolation, env.Action)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("%w: invalid JSON", ErrProtocolViolation)
	}

	if env.Target == "" {
		return fmt.Errorf("%w: target is required", ErrProtocolViolation)
	}
	payloadField := "sdp"
	if env.Action == models.ActionCandidate {
		payloadField = "candidate"
	}
	if v, ok := fields[payloadField]; !ok || string(v) == "null" {
		return fmt.Errorf("%w: %s is required", ErrProtocolViolation, payloadField)
	}

	target, ok := h.registry.Lookup(env.Target)
	if !ok {
		return fmt.Errorf("%w: target %s not found", ErrRoutingMiss, env.Target)
	}

	sender, err := json.Marshal(c.ID)
	if err != nil {
		return err
	}
	fields["sender"] = sender

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	// A target that closed after lookup is a soft miss
	if !target.deliver(data) {
		h.log.Debug().Str("conn_id", c.ID).Str("target", env.Target).Msg("Relay target unavailable")
	}
	return nil
}
