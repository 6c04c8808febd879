package errs

import "errors"

// Sentinel errors for mapping to HTTP codes in handlers.
var (
	// ErrSessionNotFound: the session id is unknown to the metadata store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionActive: a capture session is already active. The orchestrator
	// enforces single-active-session semantics.
	ErrSessionActive = errors.New("another session is already active")

	// ErrCameraNotFound: the camera id is unknown to the metadata store.
	ErrCameraNotFound = errors.New("camera not found")

	// ErrNotConnected: the broker connection is down.
	ErrNotConnected = errors.New("broker not connected")
)
