package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/handler"
	"github.com/yulithalta/lisa-research-platform-sub000/pkg/constants"
)

// New builds the HTTP router.
func New(
	sessionHandler *handler.SessionHandler,
	cameraHandler *handler.CameraHandler,
	inspect *handler.InspectHandler,
	monitorWS *handler.MonitorWSHandler,
	health *handler.HealthHandler,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)

	// REST sessions
	sessions := r.Group("/sessions")
	{
		sessions.POST("", sessionHandler.StartSession)
		sessions.GET("", sessionHandler.ListSessions)
		sessions.GET("/:id", sessionHandler.GetSession)
		sessions.DELETE("/:id", sessionHandler.StopSession)
		sessions.GET("/:id/download", sessionHandler.DownloadSession)
		sessions.GET("/:id/export-progress", sessionHandler.ExportProgress)
	}

	// Standalone camera recording
	cameras := r.Group("/cameras")
	{
		cameras.POST("/:id/record", cameraHandler.StartRecording)
		cameras.DELETE("/:id/record", cameraHandler.StopRecording)
	}

	// Debug visibility
	r.GET("/topics", inspect.Topics)
	r.GET("/devices", inspect.Devices)

	// WebSocket: live recording metrics + bus traffic tap
	r.GET("/ws/monitor", monitorWS.ServeWS)

	return r
}
