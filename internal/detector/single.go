package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mossy-p/camera-signaling/internal/models"
	"golang.org/x/sync/errgroup"
)

// ErrModelDisabled is returned when the requested model is not configured
var ErrModelDisabled = errors.New("detection model disabled")

const (
	maskMinConfidence    = 0.3
	unknownMinConfidence = 0.6

	batchConcurrency = 4
)

var (
	maskClasses   = []string{"mask", "with_mask", "face_mask", "masked", "wearing_mask", "with-mask", "face-mask"}
	noMaskClasses = []string{"no_mask", "without_mask", "no-mask", "without-mask", "no mask", "without mask"}
)

// MaskResult is the filtered output of the mask model
type MaskResult struct {
	Predictions   []Prediction `json:"predictions"`
	FilteredCount int          `json:"filtered_count"`
	OriginalCount int          `json:"original_count"`
}

// FilterMasks keeps confident mask predictions. Bare faces are always
// dropped; a class the model does not name as a mask needs a higher
// confidence to count.
func FilterMasks(preds []Prediction) []Prediction {
	out := []Prediction{}
	for _, pr := range preds {
		class := strings.ToLower(pr.Class)
		if class == "" || containsAny(class, noMaskClasses) {
			continue
		}
		if containsAny(class, maskClasses) {
			if pr.Confidence > maskMinConfidence {
				out = append(out, pr)
			}
			continue
		}
		if pr.Confidence > unknownMinConfidence {
			out = append(out, pr)
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// DetectMask runs only the mask model and filters its output
func (p *Pipeline) DetectMask(ctx context.Context, image []byte) (*MaskResult, error) {
	def, ok := p.lookup(TypeMask)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelDisabled, TypeMask)
	}
	preds, err := p.client.Infer(ctx, def.model, image)
	if err != nil {
		return nil, err
	}
	masks := FilterMasks(preds)
	return &MaskResult{
		Predictions:   masks,
		FilteredCount: len(masks),
		OriginalCount: len(preds),
	}, nil
}

// DetectEmotion returns the raw emotion model predictions
func (p *Pipeline) DetectEmotion(ctx context.Context, image []byte) ([]Prediction, error) {
	def, ok := p.lookup(TypeAngryEmotion)
	if !ok {
		return nil, fmt.Errorf("%w: emotion", ErrModelDisabled)
	}
	preds, err := p.client.Infer(ctx, def.model, image)
	if err != nil {
		return nil, err
	}
	if preds == nil {
		preds = []Prediction{}
	}
	return preds, nil
}

// BatchItem is one queued frame of a batch request
type BatchItem struct {
	CameraID string
	Frame    []byte
}

// BatchResult holds the weapon detections for one batch item. Error is set
// instead when a model call for the item failed.
type BatchResult struct {
	CameraID  string             `json:"cameraId"`
	Knife     []models.Detection `json:"knife"`
	Gun       []models.Detection `json:"gun"`
	HasThreat bool               `json:"has_threat"`
	Error     string             `json:"error,omitempty"`
}

// Batch runs the weapon models on every item. Results keep the order of
// items; nothing is recorded or alerted.
func (p *Pipeline) Batch(ctx context.Context, items []BatchItem) []BatchResult {
	results := make([]BatchResult, len(items))

	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i, item := range items {
		g.Go(func() error {
			results[i] = p.batchItem(ctx, item)
			return nil
		})
	}
	g.Wait()

	return results
}

func (p *Pipeline) batchItem(ctx context.Context, item BatchItem) BatchResult {
	res := BatchResult{
		CameraID: item.CameraID,
		Knife:    []models.Detection{},
		Gun:      []models.Detection{},
	}

	for _, kind := range []string{TypeKnife, TypeGun} {
		def, ok := p.lookup(kind)
		if !ok {
			continue
		}
		preds, err := p.client.Infer(ctx, def.model, item.Frame)
		if err != nil {
			p.log.Warn().Err(err).Str("camera_id", item.CameraID).Str("type", kind).Msg("Batch model call failed")
			return BatchResult{CameraID: item.CameraID, Error: fmt.Sprintf("%s detection failed", kind)}
		}
		if kind == TypeKnife {
			res.Knife = toDetections(def, preds)
		} else {
			res.Gun = toDetections(def, preds)
		}
	}

	res.HasThreat = len(res.Knife) > 0 || len(res.Gun) > 0
	return res
}
