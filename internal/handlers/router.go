package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/camera-signaling/config"
	"github.com/mossy-p/camera-signaling/internal/hub"
	"github.com/mossy-p/camera-signaling/internal/middleware"
)

// Deps are the services the HTTP layer routes to
type Deps struct {
	Hub      *hub.Hub
	Cameras  CameraStore
	Logs     LogStore
	Analyzer ThreatAnalyzer
	Models   ModelRunner
}

// NewRouter builds the gin engine with every route of the service
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery(), middleware.Logger())

	// Global CORS middleware (runs before routing)
	router.Use(middleware.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", Health(deps.Hub))

	auth := middleware.JWTAuth(cfg.JWTSecret)

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret))

		apiGroup.POST("/cameras", auth, CreateCamera(deps.Cameras))
		apiGroup.GET("/cameras", ListCameras(deps.Cameras, deps.Hub))
		apiGroup.GET("/cameras/:cameraId", GetCamera(deps.Cameras, deps.Hub))
		apiGroup.DELETE("/cameras/:cameraId", auth, DeleteCamera(deps.Cameras))

		apiGroup.POST("/detect", auth, DetectThreats(deps.Analyzer, deps.Hub))
		apiGroup.POST("/detect/mask", auth, DetectMask(deps.Models))
		apiGroup.POST("/detect/emotion", auth, DetectEmotion(deps.Models))
		apiGroup.POST("/detect/batch", auth, DetectBatch(deps.Models))
		apiGroup.GET("/logs", auth, GetLogs(deps.Logs))
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/camera", HandleSignaling(deps.Hub))
	}

	return router
}

// Health reports liveness and hub occupancy
func Health(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"hub":    h.Stats(),
		})
	}
}
