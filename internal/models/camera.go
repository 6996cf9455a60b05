package models

import "time"

// Camera stores information about a registered camera
type Camera struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId"` // User ID from JWT who registered the camera
	CreatedAt   time.Time `json:"createdAt"`
	Threats     int64     `json:"threats"`
	LastSeen    string    `json:"lastSeen,omitempty"`
	IsLive      bool      `json:"isLive"`
}

// CreateCameraRequest is the request body for registering a camera
type CreateCameraRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description"`
}

// LogType distinguishes threat logs from periodic safe logs
type LogType string

const (
	LogTypeThreat LogType = "threat"
	LogTypeSafe   LogType = "safe"
)

// LogEntry is a persisted detection outcome for one camera
type LogEntry struct {
	CameraID    string         `json:"cameraId"`
	CameraName  string         `json:"cameraName"`
	Type        LogType        `json:"type"`
	ThreatTypes []string       `json:"threatTypes,omitempty"`
	Detections  map[string]int `json:"detections,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
