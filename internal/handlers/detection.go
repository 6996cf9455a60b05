package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/camera-signaling/internal/detector"
	"github.com/mossy-p/camera-signaling/internal/hub"
	"github.com/mossy-p/camera-signaling/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	maxImageSize    = 10 << 20
	maxBatchImages  = 16
	defaultLogLimit = 100
)

// ThreatAnalyzer runs the threat models on one image
type ThreatAnalyzer interface {
	Analyze(ctx context.Context, req hub.DetectRequest) (*detector.Result, error)
}

// ModelRunner serves the single-model and batch detection endpoints
type ModelRunner interface {
	DetectMask(ctx context.Context, image []byte) (*detector.MaskResult, error)
	DetectEmotion(ctx context.Context, image []byte) ([]detector.Prediction, error)
	Batch(ctx context.Context, items []detector.BatchItem) []detector.BatchResult
}

// LogStore reads persisted detection logs
type LogStore interface {
	ListLogs(ctx context.Context, logType models.LogType, limit int) ([]models.LogEntry, error)
}

// readImage loads the uploaded file under field, answering the request
// itself when the upload is missing or unusable
func readImage(c *gin.Context, field string) ([]byte, bool) {
	file, err := c.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Image not provided"})
		return nil, false
	}
	return readUpload(c, file)
}

func readUpload(c *gin.Context, file *multipart.FileHeader) ([]byte, bool) {
	if file.Size > maxImageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image too large"})
		return nil, false
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read image"})
		return nil, false
	}
	defer f.Close()

	image, err := io.ReadAll(io.LimitReader(f, maxImageSize))
	if err != nil || len(image) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read image"})
		return nil, false
	}
	return image, true
}

// DetectThreats analyzes an uploaded image and, when it names a camera,
// fans the result out to that camera's viewers.
func DetectThreats(analyzer ThreatAnalyzer, h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		image, ok := readImage(c, "image")
		if !ok {
			return
		}

		cameraID := c.PostForm("cameraId")
		cameraName := c.DefaultPostForm("cameraName", "Unknown")

		result, err := analyzer.Analyze(c.Request.Context(), hub.DetectRequest{
			CameraID:   cameraID,
			CameraName: cameraName,
			Frame:      image,
		})
		if err != nil {
			log.Warn().Err(err).Str("camera_id", cameraID).Msg("Threat detection failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Detection service unavailable"})
			return
		}

		emotions := result.Emotions
		if emotions == nil {
			emotions = []detector.Prediction{}
		}

		resp := gin.H{
			"knife":            result.ByType(detector.TypeKnife),
			"gun":              result.ByType(detector.TypeGun),
			"mask":             result.ByType(detector.TypeMask),
			"emotion":          emotions,
			"angry_emotions":   result.ByType(detector.TypeAngryEmotion),
			"total_detections": len(result.Detections),
			"has_threat":       result.HasThreat(),
		}

		if cameraID != "" {
			resp["cameraId"] = cameraID
			resp["cameraName"] = cameraName
			resp["viewers"] = h.PublishDetections(models.NewDetectionEvent(cameraID, cameraName, result.Detections))
		}

		c.JSON(http.StatusOK, resp)
	}
}

func modelFailed(c *gin.Context, err error) {
	if errors.Is(err, detector.ErrModelDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Detection model not configured"})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "Detection service unavailable"})
}

// DetectMask runs the mask model alone and returns its filtered predictions
func DetectMask(runner ModelRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		image, ok := readImage(c, "image")
		if !ok {
			return
		}

		result, err := runner.DetectMask(c.Request.Context(), image)
		if err != nil {
			log.Warn().Err(err).Msg("Mask detection failed")
			modelFailed(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// DetectEmotion returns the raw emotion model predictions
func DetectEmotion(runner ModelRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		image, ok := readImage(c, "image")
		if !ok {
			return
		}

		preds, err := runner.DetectEmotion(c.Request.Context(), image)
		if err != nil {
			log.Warn().Err(err).Msg("Emotion detection failed")
			modelFailed(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"predictions": preds})
	}
}

// DetectBatch runs the weapon models on several queued frames. The i-th
// cameraIds value labels the i-th image.
func DetectBatch(runner ModelRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil || len(form.File["images"]) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No images provided"})
			return
		}

		files := form.File["images"]
		if len(files) > maxBatchImages {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Too many images"})
			return
		}
		cameraIDs := form.Value["cameraIds"]

		items := make([]detector.BatchItem, 0, len(files))
		for i, file := range files {
			image, ok := readUpload(c, file)
			if !ok {
				return
			}
			item := detector.BatchItem{Frame: image}
			if i < len(cameraIDs) {
				item.CameraID = cameraIDs[i]
			}
			items = append(items, item)
		}

		results := runner.Batch(c.Request.Context(), items)
		c.JSON(http.StatusOK, gin.H{
			"results":         results,
			"total_processed": len(results),
		})
	}
}

// GetLogs returns threat and safe logs, newest first
func GetLogs(logs LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultLogLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		logType := models.LogType(c.Query("type"))
		if logType != "" && logType != models.LogTypeThreat && logType != models.LogTypeSafe {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be threat or safe"})
			return
		}

		entries, err := logs.ListLogs(c.Request.Context(), logType, limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list logs")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list logs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"logs": entries, "count": len(entries)})
	}
}
