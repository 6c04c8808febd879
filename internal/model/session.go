package model

import "time"

// SessionStatus represents capture session state.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
)

// Session is the API view of a capture session (not GORM entity).
type Session struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Status     SessionStatus     `json:"status"`
	Sensors    []string          `json:"sensors"`
	Cameras    []string          `json:"cameras"`
	Tags       []string          `json:"tags,omitempty"`
	StorageDir string            `json:"storage_dir"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
	Recordings []RecordingStatus `json:"recordings,omitempty"`
}

// RecordingStatus is the per-camera recording view inside a session.
type RecordingStatus struct {
	CameraID   string     `json:"camera_id"`
	Status     string     `json:"status"` // starting, recording, completed, error
	OutputFile string     `json:"output_file,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// StartSessionRequest is the request body for POST /sessions.
type StartSessionRequest struct {
	Name    string   `json:"name"`
	Sensors []string `json:"sensors"` // empty = capture all topics
	Cameras []string `json:"cameras"` // camera ids to record
	Tags    []string `json:"tags"`
}

// StartSessionResponse is the response for POST /sessions. Cameras that
// failed to start are reported, they do not abort the session.
type StartSessionResponse struct {
	SessionID      string          `json:"session_id"`
	Status         string          `json:"status"`
	StorageDir     string          `json:"storage_dir"`
	CameraFailures []CameraFailure `json:"camera_failures,omitempty"`
}

// CameraFailure reports one camera that could not start recording.
type CameraFailure struct {
	CameraID string `json:"camera_id"`
	Error    string `json:"error"`
}

// ExportProgress reports archive-building progress for a session.
type ExportProgress struct {
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"` // idle, locating, archiving, done, error
	Located   int    `json:"located"`
	Archived  int    `json:"archived"`
	Omitted   int    `json:"omitted"`
	Error     string `json:"error,omitempty"`
}
