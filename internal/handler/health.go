package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// BrokerStatus reports whether the bus connection is live.
type BrokerStatus interface {
	IsConnected() bool
}

// HealthHandler handles health and ready checks.
type HealthHandler struct {
	broker BrokerStatus
}

// NewHealthHandler creates a health handler. broker may be nil.
func NewHealthHandler(broker BrokerStatus) *HealthHandler {
	return &HealthHandler{broker: broker}
}

// Health responds to GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	connected := false
	if h.broker != nil {
		connected = h.broker.IsConnected()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "capture-service",
		"broker":  connected,
		"time":    time.Now().Unix(),
	})
}

// Ready responds to GET /ready (for k8s readiness).
func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
