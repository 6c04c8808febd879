// Package storage defines the on-disk layout for capture sessions.
//
// Per session:
//
//	<root>/sessions/<id>/recordings/
//	<root>/sessions/<id>/sensor_data/   one JSON + CSV per sensor
//	<root>/sessions/<id>/mqtt_data/     consolidated traffic log + typed CSVs
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves session-scoped paths under a single storage root.
type Layout struct {
	Root string
}

// SessionDir returns <root>/sessions/<id>.
func (l Layout) SessionDir(sessionID string) string {
	return filepath.Join(l.Root, "sessions", sessionID)
}

// RecordingsDir returns the session-scoped recordings directory.
func (l Layout) RecordingsDir(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), "recordings")
}

// SensorDataDir returns the per-sensor JSON/CSV directory.
func (l Layout) SensorDataDir(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), "sensor_data")
}

// MQTTDataDir returns the consolidated traffic log directory.
func (l Layout) MQTTDataDir(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), "mqtt_data")
}

// Provision eagerly creates the full session directory tree.
func (l Layout) Provision(sessionID string) error {
	for _, dir := range []string{
		l.RecordingsDir(sessionID),
		l.SensorDataDir(sessionID),
		l.MQTTDataDir(sessionID),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("provision %s: %w", dir, err)
		}
	}
	return nil
}
