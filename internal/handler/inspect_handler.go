package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/demux"
)

// InspectHandler exposes the debug view of recent bus traffic and the
// device registry.
type InspectHandler struct {
	cache   *demux.TopicCache
	devices *demux.DeviceRegistry
}

// NewInspectHandler creates an inspect handler.
func NewInspectHandler(cache *demux.TopicCache, devices *demux.DeviceRegistry) *InspectHandler {
	return &InspectHandler{cache: cache, devices: devices}
}

// Topics godoc
// GET /topics — recent messages per cached topic; ?topic= narrows to one.
func (h *InspectHandler) Topics(c *gin.Context) {
	if topic := c.Query("topic"); topic != "" {
		c.JSON(http.StatusOK, gin.H{"topic": topic, "messages": h.cache.Recent(topic)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": h.cache.Snapshot()})
}

// Devices godoc
// GET /devices — devices announced by the bridge.
func (h *InspectHandler) Devices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": h.devices.List()})
}
