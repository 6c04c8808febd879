// Package demux classifies inbound bus traffic by topic and fans it out to
// the active session sinks.
package demux

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// genericSuffixes are topic tail segments that name an operation rather
// than a device; the sensor identity then comes from the segment before.
var genericSuffixes = map[string]struct{}{
	"get":          {},
	"set":          {},
	"availability": {},
}

// SinkWriter receives demultiplexed messages for one session. Write must
// not block on slow I/O and must swallow (log) its own failures: errors
// never propagate back into the routing hot path.
type SinkWriter interface {
	Write(sensorID, topic string, fields map[string]any, raw []byte, ts time.Time)
}

// Tap observes every routed message (monitor broadcast). May be nil.
type Tap func(topic, sensorID string, payload []byte, ts time.Time)

type route struct {
	filter []string // sensor identities; empty = capture all
	sink   SinkWriter
}

// Router is the topic demultiplexer. HandleMessage is invoked sequentially
// per connection; the route table is the only state shared with the
// session registry and is guarded by its own mutex held only for map
// access, never across writes.
type Router struct {
	mu     sync.RWMutex
	routes map[string]route // session id -> route

	cache       *TopicCache
	devices     *DeviceRegistry
	deviceTopic string
	tap         Tap
	log         *zap.Logger
}

// NewRouter creates a router. deviceTopic is the bridge device-list topic
// handled as a side channel instead of session traffic.
func NewRouter(cache *TopicCache, devices *DeviceRegistry, deviceTopic string, log *zap.Logger) *Router {
	return &Router{
		routes:      make(map[string]route),
		cache:       cache,
		devices:     devices,
		deviceTopic: deviceTopic,
		log:         log,
	}
}

// SetTap installs the monitor tap. Call before the connection starts.
func (r *Router) SetTap(t Tap) { r.tap = t }

// Bind starts routing matching messages to a session's sink.
func (r *Router) Bind(sessionID string, filter []string, sink SinkWriter) {
	r.mu.Lock()
	r.routes[sessionID] = route{filter: append([]string(nil), filter...), sink: sink}
	r.mu.Unlock()
	r.log.Info("session filter registered",
		zap.String("session_id", sessionID),
		zap.Strings("sensors", filter))
}

// Unbind stops routing for a session. Safe to call for unknown ids.
func (r *Router) Unbind(sessionID string) {
	r.mu.Lock()
	_, ok := r.routes[sessionID]
	delete(r.routes, sessionID)
	r.mu.Unlock()
	if ok {
		r.log.Info("session filter unregistered", zap.String("session_id", sessionID))
	}
}

// HandleMessage processes one inbound message: cache, side channels, then
// fan-out to every matching session sink.
func (r *Router) HandleMessage(topic string, payload []byte) {
	now := time.Now()
	r.cache.Add(topic, payload, now)

	if topic == r.deviceTopic {
		if err := r.devices.UpdateFromPayload(payload); err != nil {
			r.log.Warn("device list decode failed", zap.Error(err))
		}
		return
	}

	fields := decodeFields(payload)
	sensorID := SensorIDFromTopic(topic)

	r.mu.RLock()
	matched := make([]route, 0, len(r.routes))
	for _, rt := range r.routes {
		if rt.matches(topic) {
			matched = append(matched, rt)
		}
	}
	r.mu.RUnlock()

	for _, rt := range matched {
		rt.sink.Write(sensorID, topic, fields, payload, now)
	}
	if r.tap != nil && len(matched) > 0 {
		r.tap(topic, sensorID, payload, now)
	}
}

// matches reports whether a topic is routed to this session: an empty
// filter captures everything, otherwise the topic must contain one of the
// registered sensor identities as a substring.
func (rt route) matches(topic string) bool {
	if len(rt.filter) == 0 {
		return true
	}
	for _, sensor := range rt.filter {
		if sensor != "" && strings.Contains(topic, sensor) {
			return true
		}
	}
	return false
}

// SensorIDFromTopic derives the logical sensor identity from a topic: the
// last non-empty path segment, or the one before it when the tail is a
// generic operation suffix like "get".
func SensorIDFromTopic(topic string) string {
	segs := strings.Split(topic, "/")
	var nonEmpty []string
	for _, s := range segs {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return ""
	}
	last := nonEmpty[len(nonEmpty)-1]
	if _, generic := genericSuffixes[strings.ToLower(last)]; generic && len(nonEmpty) > 1 {
		return nonEmpty[len(nonEmpty)-2]
	}
	return last
}

// decodeFields attempts a structured decode of the payload, falling back to
// raw text under the "value" key.
func decodeFields(payload []byte) map[string]any {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err == nil {
		return fields
	}
	return map[string]any{"value": string(payload)}
}
