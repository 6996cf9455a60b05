package models

import "time"

// Action names the kind of message carried by the signaling envelope
type Action string

const (
	// Inbound
	ActionStreamerJoin Action = "streamer_join"
	ActionViewerJoin   Action = "viewer_join"
	ActionOffer        Action = "offer"
	ActionAnswer       Action = "answer"
	ActionCandidate    Action = "ice-candidate"
	ActionVideoFrame   Action = "video_frame"

	// Outbound
	ActionStreamerJoined Action = "streamer_joined"
	ActionViewerJoined   Action = "viewer_joined"
	ActionViewerLeft     Action = "viewer_left"
	ActionStreamerLeft   Action = "streamer_left"
	ActionDetections     Action = "detections"
	ActionError          Action = "error"
)

// Envelope holds the routing fields of an inbound message. Relay payloads
// are forwarded from the raw message, never from this struct.
type Envelope struct {
	Action     Action `json:"action"`
	CameraID   string `json:"camera_id,omitempty"`
	Target     string `json:"target,omitempty"`
	Frame      string `json:"frame,omitempty"`
	CameraName string `json:"camera_name,omitempty"`
}

// SignalMessage is a hub-originated notification
type SignalMessage struct {
	Action   Action `json:"action"`
	CameraID string `json:"camera_id,omitempty"`
	Viewer   string `json:"viewer,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Severity ranks how dangerous a detection is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Detection is one classified, localized finding in a frame
type Detection struct {
	Type       string     `json:"type"`
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
	Severity   Severity   `json:"severity"`
}

// DetectionEvent is the batch of findings for one processed frame
type DetectionEvent struct {
	Action     Action      `json:"action"`
	CameraID   string      `json:"camera_id"`
	CameraName string      `json:"camera_name,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
	HasThreat  bool        `json:"has_threat"`
}

// NewDetectionEvent builds the fan-out message for a camera
func NewDetectionEvent(cameraID, cameraName string, detections []Detection) DetectionEvent {
	if detections == nil {
		detections = []Detection{}
	}
	return DetectionEvent{
		Action:     ActionDetections,
		CameraID:   cameraID,
		CameraName: cameraName,
		Timestamp:  time.Now().UTC(),
		Detections: detections,
		HasThreat:  len(detections) > 0,
	}
}

// ThreatAlert is published to the alert emitters when a frame contains threats
type ThreatAlert struct {
	CameraID    string         `json:"camera_id"`
	CameraName  string         `json:"camera_name"`
	ThreatTypes []string       `json:"threat_types"`
	Counts      map[string]int `json:"counts"`
	Detections  []Detection    `json:"detections"`
	Timestamp   time.Time      `json:"timestamp"`
}
