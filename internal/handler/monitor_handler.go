package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/service"
)

// MonitorWSHandler serves the dashboard WebSocket at /ws/monitor,
// broadcasting recording metrics and routed bus traffic.
type MonitorWSHandler struct {
	hub *service.MonitorHub
	log *zap.Logger
}

// NewMonitorWSHandler creates the monitor WebSocket handler.
func NewMonitorWSHandler(hub *service.MonitorHub, log *zap.Logger) *MonitorWSHandler {
	return &MonitorWSHandler{hub: hub, log: log}
}

// ServeWS upgrades the request and pumps hub broadcasts to the observer.
func (h *MonitorWSHandler) ServeWS(c *gin.Context) {
	conn, err := h.hub.Upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	observer, cleanup := h.hub.Register(conn)
	defer cleanup()

	// Writer goroutine: hub events to the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range observer.Send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Reader loop only to detect disconnect; observers do not send.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cleanup()
	<-done
}
