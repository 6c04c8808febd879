package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/errs"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/model"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/service"
)

// SessionHandler handles REST API for capture sessions.
type SessionHandler struct {
	svc    *service.SessionService
	export *service.ExportService
	log    *zap.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(svc *service.SessionService, export *service.ExportService, log *zap.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, export: export, log: log}
}

// StartSession godoc
// POST /sessions
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req model.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	resp, err := h.svc.Start(req)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrSessionActive):
			c.JSON(http.StatusConflict, gin.H{"error": "another session is already active"})
		case errors.Is(err, errs.ErrCameraNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown camera in selection"})
		default:
			h.log.Error("session start failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		}
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ListSessions godoc
// GET /sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.svc.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetSession godoc
// GET /sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, err := h.svc.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// StopSession godoc
// DELETE /sessions/:id
func (h *SessionHandler) StopSession(c *gin.Context) {
	err := h.svc.Stop(c.Param("id"))
	if err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.log.Error("session stop failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop session"})
		return
	}
	c.Status(http.StatusNoContent)
}

// DownloadSession godoc
// GET /sessions/:id/download — streams the session archive.
func (h *SessionHandler) DownloadSession(c *gin.Context) {
	sessionID := c.Param("id")

	// Resolve the session before committing the response so a 404 is still
	// possible.
	if _, err := h.svc.Get(sessionID); err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="session_%s.zip"`, sessionID))
	if err := h.export.Stream(c.Request.Context(), c.Writer, sessionID); err != nil {
		// Headers are already flushed; all we can do is log and cut the
		// stream. The on-disk artifacts are untouched (export only reads).
		h.log.Warn("archive stream aborted",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// ExportProgress godoc
// GET /sessions/:id/export-progress
func (h *SessionHandler) ExportProgress(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.svc.Get(sessionID); err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	c.JSON(http.StatusOK, h.export.Progress(sessionID))
}
