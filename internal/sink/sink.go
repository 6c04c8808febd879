// Package sink writes demultiplexed session traffic to the session's
// on-disk file set: a consolidated JSON + CSV traffic log, one CSV per
// recognized physical-quantity type, and one JSON + CSV pair per sensor.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// Bounds on the retained JSON message history; CSV is unbounded and
	// append-only.
	maxConsolidated = 1000
	maxPerSensor    = 500
)

// Record is one stored message in the JSON logs.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Topic     string         `json:"topic"`
	SensorID  string         `json:"sensor_id"`
	Fields    map[string]any `json:"fields"`
}

type sensorDoc struct {
	SensorID  string    `json:"sensorId"`
	SessionID string    `json:"sessionId"`
	StartTime time.Time `json:"startTime"`
	Data      []Record  `json:"data"`
}

type consolidatedDoc struct {
	SessionID string    `json:"sessionId"`
	StartTime time.Time `json:"startTime"`
	Count     int       `json:"count"`
	Messages  []Record  `json:"messages"`
}

// Sink is the per-session file writer. One Sink is owned exclusively by one
// session; the mutex serializes the router's writes against the registry's
// final flush on stop.
type Sink struct {
	sessionID string
	mqttDir   string
	sensorDir string
	started   time.Time
	log       *zap.Logger

	flushEvery    int
	flushInterval time.Duration

	mu        sync.Mutex
	messages  []Record
	total     int
	perSensor map[string]*sensorDoc
	dirty     map[string]bool
	sinceSave int
	lastSave  time.Time
	closed    bool
}

// New creates a sink writing under the session's mqtt_data and sensor_data
// directories, which must already exist.
func New(sessionID, mqttDir, sensorDir string, flushEvery int, flushInterval time.Duration, log *zap.Logger) *Sink {
	return &Sink{
		sessionID:     sessionID,
		mqttDir:       mqttDir,
		sensorDir:     sensorDir,
		started:       time.Now(),
		log:           log,
		flushEvery:    flushEvery,
		flushInterval: flushInterval,
		perSensor:     make(map[string]*sensorDoc),
		dirty:         make(map[string]bool),
		lastSave:      time.Now(),
	}
}

// Write stores one message across every write target. Each sub-write is
// wrapped independently: a failure for one file is logged and skipped, the
// rest still happen. Nothing propagates back to the router.
func (s *Sink) Write(sensorID, topic string, fields map[string]any, raw []byte, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	known := extractKnown(fields)
	rec := Record{Timestamp: ts, Topic: topic, SensorID: sensorID, Fields: fields}

	// Consolidated CSV: timestamp, topic, payload, sensorId, battery, linkquality.
	s.appendCSV(filepath.Join(s.mqttDir, "messages.csv"),
		[]string{"timestamp", "topic", "payload", "sensor_id", "battery", "linkquality"},
		[]string{ts.Format(time.RFC3339Nano), topic, string(raw), sensorID,
			fmtNum(known.Battery), fmtNum(known.LinkQuality)})

	// Typed CSVs for recognized physical quantities.
	if known.Temperature != nil {
		s.appendTyped("temperature_sensors.csv", topic, sensorID, trimFloat(*known.Temperature), known, ts)
	}
	if known.Humidity != nil {
		s.appendTyped("humidity_sensors.csv", topic, sensorID, trimFloat(*known.Humidity), known, ts)
	}
	if known.Motion != nil {
		s.appendTyped("motion_sensors.csv", topic, sensorID, fmtBool(known.Motion), known, ts)
	}
	if known.Contact != nil {
		s.appendTyped("contact_sensors.csv", topic, sensorID, fmtBool(known.Contact), known, ts)
	}

	// Per-sensor CSV.
	if sensorID != "" {
		s.appendCSV(filepath.Join(s.sensorDir, fileSafe(sensorID)+".csv"),
			[]string{"timestamp", "topic", "payload"},
			[]string{ts.Format(time.RFC3339Nano), topic, string(raw)})
	}

	// In-memory JSON state, bounded.
	s.messages = append(s.messages, rec)
	if len(s.messages) > maxConsolidated {
		s.messages = s.messages[len(s.messages)-maxConsolidated:]
	}
	s.total++
	if sensorID != "" {
		doc, ok := s.perSensor[sensorID]
		if !ok {
			doc = &sensorDoc{SensorID: sensorID, SessionID: s.sessionID, StartTime: ts}
			s.perSensor[sensorID] = doc
		}
		doc.Data = append(doc.Data, rec)
		if len(doc.Data) > maxPerSensor {
			doc.Data = doc.Data[len(doc.Data)-maxPerSensor:]
		}
		s.dirty[sensorID] = true
	}

	// JSON documents are rewritten on a counter/time hybrid trigger, not
	// per message, to bound file opens under high message rates.
	s.sinceSave++
	if s.sinceSave >= s.flushEvery || time.Since(s.lastSave) >= s.flushInterval {
		s.saveJSONLocked()
	}
}

// MessageCount returns the number of messages written so far.
func (s *Sink) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Flush forces the JSON documents to disk.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveJSONLocked()
}

// Close flushes and marks the sink terminal; later writes are dropped.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveJSONLocked()
	s.closed = true
}

// saveJSONLocked rewrites the consolidated JSON and every dirty per-sensor
// JSON via write-to-temp-then-rename so a crash mid-write never leaves a
// partial file.
func (s *Sink) saveJSONLocked() {
	doc := consolidatedDoc{
		SessionID: s.sessionID,
		StartTime: s.started,
		Count:     s.total,
		Messages:  s.messages,
	}
	if err := writeJSONAtomic(filepath.Join(s.mqttDir, "messages.json"), doc); err != nil {
		s.log.Warn("consolidated json save failed",
			zap.String("session_id", s.sessionID), zap.Error(err))
	}
	for sensorID := range s.dirty {
		path := filepath.Join(s.sensorDir, fileSafe(sensorID)+".json")
		if err := writeJSONAtomic(path, s.perSensor[sensorID]); err != nil {
			s.log.Warn("sensor json save failed",
				zap.String("sensor_id", sensorID), zap.Error(err))
			continue
		}
		delete(s.dirty, sensorID)
	}
	s.sinceSave = 0
	s.lastSave = time.Now()
}

func (s *Sink) appendTyped(name, topic, sensorID, value string, known knownFields, ts time.Time) {
	s.appendCSV(filepath.Join(s.mqttDir, name),
		[]string{"topic", "sensor_id", "value", "timestamp", "battery", "linkquality"},
		[]string{topic, sensorID, value, ts.Format(time.RFC3339Nano),
			fmtNum(known.Battery), fmtNum(known.LinkQuality)})
}

// appendCSV appends one row, writing the header first when the file is new.
// Failures are logged and swallowed.
func (s *Sink) appendCSV(path string, header, row []string) {
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		s.log.Warn("csv open failed", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if os.IsNotExist(statErr) {
		if err := w.Write(header); err != nil {
			s.log.Warn("csv header write failed", zap.String("path", path), zap.Error(err))
			return
		}
	}
	if err := w.Write(row); err != nil {
		s.log.Warn("csv row write failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.Flush()
	if err := w.Error(); err != nil {
		s.log.Warn("csv flush failed", zap.String("path", path), zap.Error(err))
	}
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
