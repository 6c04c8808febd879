package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/errs"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/service"
)

// CameraHandler handles standalone (session-less) camera recording.
type CameraHandler struct {
	svc *service.SessionService
	log *zap.Logger
}

// NewCameraHandler creates a camera handler.
func NewCameraHandler(svc *service.SessionService, log *zap.Logger) *CameraHandler {
	return &CameraHandler{svc: svc, log: log}
}

// StartRecording godoc
// POST /cameras/:id/record
func (h *CameraHandler) StartRecording(c *gin.Context) {
	status, err := h.svc.StartStandaloneRecording(c.Param("id"))
	if err != nil {
		if errors.Is(err, errs.ErrCameraNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
			return
		}
		h.log.Error("standalone recording start failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start recording"})
		return
	}
	c.JSON(http.StatusCreated, status)
}

// StopRecording godoc
// DELETE /cameras/:id/record — idempotent, stopping a stopped camera is a
// no-op.
func (h *CameraHandler) StopRecording(c *gin.Context) {
	if err := h.svc.StopStandaloneRecording(c.Param("id")); err != nil {
		if errors.Is(err, errs.ErrCameraNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
			return
		}
		h.log.Error("standalone recording stop failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop recording"})
		return
	}
	c.Status(http.StatusNoContent)
}
