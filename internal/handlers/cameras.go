package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mossy-p/camera-signaling/internal/hub"
	"github.com/mossy-p/camera-signaling/internal/middleware"
	"github.com/mossy-p/camera-signaling/internal/models"
	"github.com/mossy-p/camera-signaling/internal/store"
	"github.com/rs/zerolog/log"
)

// CameraStore persists camera metadata
type CameraStore interface {
	CreateCamera(ctx context.Context, camera models.Camera) error
	GetCamera(ctx context.Context, id string) (*models.Camera, error)
	ListCameras(ctx context.Context) ([]models.Camera, error)
	DeleteCamera(ctx context.Context, id string) error
}

func streamingCameras(h *hub.Hub) map[string]bool {
	live := make(map[string]bool)
	for _, snap := range h.LiveCameras() {
		if snap.Streaming {
			live[snap.CameraID] = true
		}
	}
	return live
}

// CreateCamera registers a new camera (requires authentication)
func CreateCamera(cameras CameraStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req models.CreateCameraRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		camera := models.Camera{
			ID:          uuid.New().String(),
			Name:        req.Name,
			Description: req.Description,
			OwnerID:     userID,
			CreatedAt:   time.Now().UTC(),
		}

		if err := cameras.CreateCamera(c.Request.Context(), camera); err != nil {
			log.Error().Err(err).Msg("Failed to store camera")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create camera"})
			return
		}

		log.Info().Str("camera_id", camera.ID).Str("user_id", userID).Msg("Camera created")
		c.JSON(http.StatusCreated, camera)
	}
}

// ListCameras lists registered cameras with their live status
func ListCameras(cameras CameraStore, h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := cameras.ListCameras(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list cameras")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list cameras"})
			return
		}

		live := streamingCameras(h)
		for i := range list {
			list[i].IsLive = live[list[i].ID]
		}

		c.JSON(http.StatusOK, gin.H{"cameras": list, "count": len(list)})
	}
}

// GetCamera gets camera information by ID (public)
func GetCamera(cameras CameraStore, h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		cameraID := c.Param("cameraId")

		camera, err := cameras.GetCamera(c.Request.Context(), cameraID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("camera_id", cameraID).Msg("Failed to load camera")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load camera"})
			return
		}

		_, camera.IsLive = h.StreamerOf(cameraID)
		c.JSON(http.StatusOK, camera)
	}
}

// DeleteCamera deletes a camera (requires authentication and ownership)
func DeleteCamera(cameras CameraStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		cameraID := c.Param("cameraId")
		camera, err := cameras.GetCamera(c.Request.Context(), cameraID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load camera"})
			return
		}

		if camera.OwnerID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the camera owner can delete the camera"})
			return
		}

		if err := cameras.DeleteCamera(c.Request.Context(), cameraID); err != nil {
			log.Error().Err(err).Str("camera_id", cameraID).Msg("Failed to delete camera")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete camera"})
			return
		}

		log.Info().Str("camera_id", cameraID).Str("user_id", userID).Msg("Camera deleted")
		c.JSON(http.StatusOK, gin.H{"message": "Camera deleted"})
	}
}
