// Package registry is the in-memory source of truth for what is capturing
// right now. It enforces the single-active-session invariant and
// coordinates start/stop across the topic router, the broker subscription
// set and the recording supervisor.
package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/demux"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/errs"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/model"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/recording"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/storage"
)

// SessionSink is the registry's view of a session sink.
type SessionSink interface {
	demux.SinkWriter
	Flush()
	Close()
	MessageCount() int
}

// RouteBinder is the topic router surface the registry drives.
type RouteBinder interface {
	Bind(sessionID string, filter []string, sink demux.SinkWriter)
	Unbind(sessionID string)
}

// TopicSubscriber replays per-session topic subscriptions on the broker.
type TopicSubscriber interface {
	RegisterSessionTopics(sessionID string, topics []string)
	UnregisterSessionTopics(sessionID string)
}

// Recorder is the supervisor surface the registry drives.
type Recorder interface {
	Start(spec recording.StartSpec) (*recording.Recording, error)
	StopSession(sessionID string)
}

// SinkFactory builds the session's sink once its directories exist.
type SinkFactory func(sessionID, mqttDir, sensorDir string) SessionSink

// CameraSpec is one camera selected for a session.
type CameraSpec struct {
	ID         string
	Name       string
	StreamURL  string
	FilePrefix string
}

// StartParams describes a session start request.
type StartParams struct {
	SessionID string
	Name      string
	Sensors   []string // sensor identity filter; empty = capture all
	Topics    []string // extra broker subscriptions to replay on reconnect
	Cameras   []CameraSpec
}

// Active is the live session owned by the registry.
type Active struct {
	ID        string
	Name      string
	Sensors   []string
	Cameras   []CameraSpec
	Sink      SessionSink
	StartedAt time.Time
}

// Registry owns the active-session slot. All mutations go through its
// mutex, held only for the slot itself, never across I/O.
type Registry struct {
	layout   storage.Layout
	router   RouteBinder
	topics   TopicSubscriber
	recorder Recorder
	newSink  SinkFactory
	log      *zap.Logger

	mu     sync.Mutex
	active *Active
}

// New creates a registry. topics may be nil when the broker subscription
// set is wildcard-only.
func New(layout storage.Layout, router RouteBinder, topics TopicSubscriber, recorder Recorder, newSink SinkFactory, log *zap.Logger) *Registry {
	return &Registry{
		layout:   layout,
		router:   router,
		topics:   topics,
		recorder: recorder,
		newSink:  newSink,
		log:      log,
	}
}

// Active returns the live session, nil when idle.
func (r *Registry) Active() *Active {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start provisions storage, creates the sink, registers the sensor filter
// and launches a recording per selected camera. Fails with ErrSessionActive
// when a session is already running; the existing session is not touched.
// A camera that fails to start is reported in the returned failures, it
// does not abort the session.
func (r *Registry) Start(p StartParams) ([]model.CameraFailure, error) {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("start session %s: %w", p.SessionID, errs.ErrSessionActive)
	}
	// Reserve the slot before provisioning so a concurrent start conflicts
	// immediately; rolled back below on provisioning failure.
	act := &Active{
		ID:        p.SessionID,
		Name:      p.Name,
		Sensors:   append([]string(nil), p.Sensors...),
		Cameras:   append([]CameraSpec(nil), p.Cameras...),
		StartedAt: time.Now(),
	}
	r.active = act
	r.mu.Unlock()

	if err := r.layout.Provision(p.SessionID); err != nil {
		r.clear(p.SessionID)
		return nil, fmt.Errorf("provision session storage: %w", err)
	}

	act.Sink = r.newSink(p.SessionID, r.layout.MQTTDataDir(p.SessionID), r.layout.SensorDataDir(p.SessionID))
	r.router.Bind(p.SessionID, p.Sensors, act.Sink)
	if r.topics != nil && len(p.Topics) > 0 {
		r.topics.RegisterSessionTopics(p.SessionID, p.Topics)
	}

	var failures []model.CameraFailure
	recDir := r.layout.RecordingsDir(p.SessionID)
	for _, cam := range p.Cameras {
		_, err := r.recorder.Start(recording.StartSpec{
			CameraID:   cam.ID,
			CameraName: cam.Name,
			StreamURL:  cam.StreamURL,
			FilePrefix: cam.FilePrefix,
			SessionID:  p.SessionID,
			OutputDir:  recDir,
		})
		if err != nil {
			r.log.Warn("camera failed to start, session continues degraded",
				zap.String("session_id", p.SessionID),
				zap.String("camera_id", cam.ID),
				zap.Error(err))
			failures = append(failures, model.CameraFailure{CameraID: cam.ID, Error: err.Error()})
		}
	}

	r.log.Info("session started",
		zap.String("session_id", p.SessionID),
		zap.Strings("sensors", p.Sensors),
		zap.Int("cameras", len(p.Cameras)),
		zap.Int("camera_failures", len(failures)))
	return failures, nil
}

// Stop tears a session down: stop recordings, unregister the sensor
// filter, final-flush and close the sink. Every step runs even if an
// earlier one fails; a runaway encoder is a worse failure mode than an
// incompletely flushed sink. Idempotent: stopping an unknown or already
// stopped session is a no-op returning false.
func (r *Registry) Stop(sessionID string) bool {
	r.mu.Lock()
	act := r.active
	if act == nil || act.ID != sessionID {
		r.mu.Unlock()
		return false
	}
	r.active = nil
	r.mu.Unlock()

	r.recorder.StopSession(sessionID)
	r.router.Unbind(sessionID)
	if r.topics != nil {
		r.topics.UnregisterSessionTopics(sessionID)
	}
	if act.Sink != nil {
		act.Sink.Close()
	}
	r.log.Info("session stopped",
		zap.String("session_id", sessionID),
		zap.Int("messages", messageCount(act.Sink)))
	return true
}

func (r *Registry) clear(sessionID string) {
	r.mu.Lock()
	if r.active != nil && r.active.ID == sessionID {
		r.active = nil
	}
	r.mu.Unlock()
}

func messageCount(s SessionSink) int {
	if s == nil {
		return 0
	}
	return s.MessageCount()
}
