package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/recording"
)

// Observer is one dashboard WebSocket connection watching live capture
// activity.
type Observer struct {
	Conn *websocket.Conn
	Send chan []byte
}

// MonitorHub broadcasts recording metric samples and a tap of routed bus
// traffic to every connected observer.
type MonitorHub struct {
	mu        sync.RWMutex
	observers map[*Observer]struct{}
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

// NewMonitorHub creates a monitor hub.
func NewMonitorHub(log *zap.Logger) *MonitorHub {
	return &MonitorHub{
		observers: make(map[*Observer]struct{}),
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024 * 4,
			// Allow all origins for dev; in prod set CheckOrigin.
		},
	}
}

// Register adds an observer and returns a cleanup function.
func (h *MonitorHub) Register(conn *websocket.Conn) (*Observer, func()) {
	o := &Observer{Conn: conn, Send: make(chan []byte, 256)}
	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()
	h.log.Info("monitor observer connected")

	return o, func() {
		h.mu.Lock()
		_, ok := h.observers[o]
		delete(h.observers, o)
		h.mu.Unlock()
		if ok {
			close(o.Send)
			h.log.Info("monitor observer disconnected")
		}
	}
}

// Broadcast fans an event out to every observer. Slow observers are
// skipped, never blocked on.
func (h *MonitorHub) Broadcast(event string, payload any) {
	msg, err := json.Marshal(map[string]any{"event": event, "data": payload})
	if err != nil {
		h.log.Warn("monitor event marshal failed", zap.Error(err))
		return
	}
	h.mu.RLock()
	observers := make([]*Observer, 0, len(h.observers))
	for o := range h.observers {
		observers = append(observers, o)
	}
	h.mu.RUnlock()

	for _, o := range observers {
		select {
		case o.Send <- msg:
		default:
			h.log.Warn("observer send buffer full, dropping event")
		}
	}
}

// BroadcastRecording implements recording.Broadcaster.
func (h *MonitorHub) BroadcastRecording(sample recording.Sample) {
	h.Broadcast("recording_metrics", sample)
}

// BroadcastBusMessage is wired as the topic router's tap.
func (h *MonitorHub) BroadcastBusMessage(topic, sensorID string, payload []byte, ts time.Time) {
	h.Broadcast("bus_message", map[string]any{
		"topic":       topic,
		"sensor_id":   sensorID,
		"payload":     string(payload),
		"received_at": ts,
	})
}

// Upgrader returns the WebSocket upgrader for HTTP handlers.
func (h *MonitorHub) Upgrader() *websocket.Upgrader {
	return &h.upgrader
}

// ObserverCount returns the number of connected observers (for debugging).
func (h *MonitorHub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}
