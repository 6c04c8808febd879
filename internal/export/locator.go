// Package export recovers a session's on-disk artifacts and bundles them
// into a single archive. Artifacts are found post-hoc: recordings were
// historically written under several inconsistent roots, so the locator
// layers exact lookup, pattern matching and a scored bounded-depth walk
// instead of assuming one canonical path.
package export

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/storage"
)

// ArtifactKind classifies a located file.
type ArtifactKind string

const (
	KindRecording  ArtifactKind = "recording"
	KindSensorData ArtifactKind = "sensor_data"
	KindTrafficLog ArtifactKind = "traffic_log"
)

// Artifact is one file plausibly belonging to a session.
type Artifact struct {
	Path     string
	Kind     ArtifactKind
	CameraID string
	SensorID string
}

// Omission records an artifact every strategy failed to find; exports note
// it in the manifest instead of aborting.
type Omission struct {
	CameraID string
	Expected string
	Reason   string
}

// RecordingMeta is the stored metadata for one recording being located.
type RecordingMeta struct {
	CameraID   string
	CameraName string
	FilePrefix string
	OutputFile string // exact path recorded at start time, may be stale
}

// SessionMeta is what the locator and archiver need to know about a
// session.
type SessionMeta struct {
	ID         string
	Name       string
	Sensors    []string
	Tags       []string
	StartedAt  time.Time
	EndedAt    *time.Time
	Recordings []RecordingMeta
}

const walkMaxDepth = 4

// Locator searches an ordered list of candidate roots, most authoritative
// first.
type Locator struct {
	layout      storage.Layout
	legacyRoots []string
	log         *zap.Logger
}

// NewLocator creates a locator. legacyRoots are searched after the
// session-scoped directory, in order.
func NewLocator(layout storage.Layout, legacyRoots []string, log *zap.Logger) *Locator {
	return &Locator{layout: layout, legacyRoots: legacyRoots, log: log}
}

// Locate returns every artifact found for the session plus the recordings
// that could not be recovered.
func (l *Locator) Locate(meta SessionMeta) ([]Artifact, []Omission) {
	var artifacts []Artifact
	var omissions []Omission

	for _, rec := range meta.Recordings {
		if path, ok := l.findRecording(meta.ID, rec); ok {
			artifacts = append(artifacts, Artifact{Path: path, Kind: KindRecording, CameraID: rec.CameraID})
			continue
		}
		omissions = append(omissions, Omission{
			CameraID: rec.CameraID,
			Expected: rec.OutputFile,
			Reason:   "recording file not found under any known root",
		})
	}

	// Sensor files were written by the sink under known names: enumerate
	// directly, no pattern matching needed.
	artifacts = append(artifacts, l.enumerate(l.layout.SensorDataDir(meta.ID), KindSensorData)...)
	artifacts = append(artifacts, l.enumerate(l.layout.MQTTDataDir(meta.ID), KindTrafficLog)...)
	return artifacts, omissions
}

// findRecording applies the layered strategies over the ordered roots:
// exact stored path, exact basename per root, substring pattern match per
// root, then a scored bounded-depth walk.
func (l *Locator) findRecording(sessionID string, rec RecordingMeta) (string, bool) {
	if rec.OutputFile != "" {
		if _, err := os.Stat(rec.OutputFile); err == nil {
			return rec.OutputFile, true
		}
	}

	roots := l.roots(sessionID)
	base := filepath.Base(rec.OutputFile)
	for _, root := range roots {
		if base != "" && base != "." {
			candidate := filepath.Join(root, base)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}
	}

	for _, root := range roots {
		if path, ok := l.patternMatch(root, sessionID, rec); ok {
			return path, true
		}
	}

	return l.scoredWalk(roots, sessionID, rec)
}

// roots orders the candidate directories from most to least authoritative.
func (l *Locator) roots(sessionID string) []string {
	roots := []string{l.layout.RecordingsDir(sessionID)}
	roots = append(roots, l.legacyRoots...)
	for _, legacy := range l.legacyRoots {
		roots = append(roots, filepath.Join(legacy, sessionID))
	}
	return roots
}

// patternMatch scans one directory for a name mentioning the camera or the
// session id in any historical separator convention.
func (l *Locator) patternMatch(dir, sessionID string, rec RecordingMeta) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	bestScore := 0
	best := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		score := matchScore(e.Name(), sessionID, rec)
		if score > bestScore {
			bestScore = score
			best = filepath.Join(dir, e.Name())
		}
	}
	return best, bestScore > 0
}

// scoredWalk recursively searches every root up to walkMaxDepth, preferring
// files matching more of {camera id, session id, camera prefix}.
func (l *Locator) scoredWalk(roots []string, sessionID string, rec RecordingMeta) (string, bool) {
	bestScore := 0
	best := ""
	for _, root := range roots {
		root := filepath.Clean(root)
		baseDepth := strings.Count(root, string(filepath.Separator))
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree, keep going
			}
			if d.IsDir() {
				if strings.Count(path, string(filepath.Separator))-baseDepth >= walkMaxDepth {
					return filepath.SkipDir
				}
				return nil
			}
			if score := matchScore(d.Name(), sessionID, rec); score > bestScore {
				bestScore = score
				best = path
			}
			return nil
		})
	}
	return best, bestScore > 0
}

// matchScore counts how many of {camera id, session id, camera prefix} a
// filename mentions, trying `-`, `_` and no separator interchangeably.
func matchScore(name, sessionID string, rec RecordingMeta) int {
	if !strings.HasSuffix(strings.ToLower(name), ".mp4") {
		return 0
	}
	score := 0
	if containsToken(name, rec.CameraID) {
		score++
	}
	if containsToken(name, sessionID) {
		score++
	}
	if rec.FilePrefix != "" && strings.Contains(name, rec.FilePrefix) {
		score++
	}
	return score
}

// containsToken checks for the token under each separator convention.
func containsToken(name, token string) bool {
	if token == "" {
		return false
	}
	for _, v := range []string{
		token,
		strings.ReplaceAll(token, "-", "_"),
		strings.ReplaceAll(token, "-", ""),
	} {
		if strings.Contains(name, v) {
			return true
		}
	}
	return false
}

func (l *Locator) enumerate(dir string, kind ArtifactKind) []Artifact {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".json" && ext != ".csv" {
			continue
		}
		a := Artifact{Path: filepath.Join(dir, name), Kind: kind}
		if kind == KindSensorData {
			a.SensorID = strings.TrimSuffix(name, filepath.Ext(name))
		}
		out = append(out, a)
	}
	return out
}
