package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mossy-p/camera-signaling/config"
	"github.com/mossy-p/camera-signaling/internal/hub"
	"github.com/mossy-p/camera-signaling/internal/logging"
	"github.com/mossy-p/camera-signaling/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Detection types produced by the pipeline
const (
	TypeKnife        = "knife"
	TypeGun          = "gun"
	TypeMask         = "mask"
	TypeAngryEmotion = "angry_emotion"
)

var threatLabels = map[string]string{
	TypeKnife:        "Knife",
	TypeGun:          "Gun",
	TypeMask:         "Face Mask",
	TypeAngryEmotion: "Angry Person",
}

var angryWords = []string{"angry", "anger", "furious", "rage"}

// Inferer runs one hosted model on an image
type Inferer interface {
	Infer(ctx context.Context, model string, image []byte) ([]Prediction, error)
}

// Recorder persists detection outcomes per camera
type Recorder interface {
	RecordThreat(ctx context.Context, entry models.LogEntry) error
	RecordSafe(ctx context.Context, entry models.LogEntry) (bool, error)
}

// AlertEmitter publishes threat alerts
type AlertEmitter interface {
	Emit(ctx context.Context, alert models.ThreatAlert) error
}

type modelDef struct {
	kind     string
	model    string
	severity models.Severity
	keep     func(class string) bool
}

// Result groups the detections of one frame by type
type Result struct {
	Detections []models.Detection
	Counts     map[string]int
	Emotions   []Prediction // raw emotion model output, angry or not
	Failed     []string     // types whose model call failed
}

// HasThreat reports whether any detection survived filtering
func (r *Result) HasThreat() bool {
	return len(r.Detections) > 0
}

// ByType returns the detections of one type, never nil
func (r *Result) ByType(kind string) []models.Detection {
	out := []models.Detection{}
	for _, d := range r.Detections {
		if d.Type == kind {
			out = append(out, d)
		}
	}
	return out
}

// ThreatTypes returns human labels for the threat types present
func (r *Result) ThreatTypes() []string {
	var types []string
	for _, kind := range []string{TypeKnife, TypeGun, TypeMask, TypeAngryEmotion} {
		if r.Counts[kind] > 0 {
			types = append(types, threatLabels[kind])
		}
	}
	return types
}

// Pipeline runs every threat model on a frame and records the outcome
type Pipeline struct {
	client   Inferer
	defs     []modelDef
	recorder Recorder
	emitter  AlertEmitter
	log      zerolog.Logger
}

// NewPipeline wires the models from cfg. recorder and emitter may be nil.
func NewPipeline(client Inferer, cfg config.DetectorConfig, recorder Recorder, emitter AlertEmitter) *Pipeline {
	return &Pipeline{
		client: client,
		defs: []modelDef{
			{kind: TypeKnife, model: cfg.KnifeModel, severity: models.SeverityHigh},
			{kind: TypeGun, model: cfg.GunModel, severity: models.SeverityCritical},
			// Anything the mask model finds in front of a face counts
			{kind: TypeMask, model: cfg.MaskModel, severity: models.SeverityMedium},
			{kind: TypeAngryEmotion, model: cfg.EmotionModel, severity: models.SeverityLow, keep: isAngry},
		},
		recorder: recorder,
		emitter:  emitter,
		log:      logging.Component("detector"),
	}
}

func isAngry(class string) bool {
	return containsAny(strings.ToLower(class), angryWords)
}

// Detect implements hub.Detector
func (p *Pipeline) Detect(ctx context.Context, req hub.DetectRequest) ([]models.Detection, error) {
	result, err := p.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	return result.Detections, nil
}

// Analyze runs all models concurrently. A failing model contributes no
// detections; only when every model fails is an error returned.
func (p *Pipeline) Analyze(ctx context.Context, req hub.DetectRequest) (*Result, error) {
	var (
		mu     sync.Mutex
		result = &Result{Counts: make(map[string]int)}
		errs   []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, def := range p.defs {
		if def.model == "" {
			continue
		}
		g.Go(func() error {
			preds, err := p.client.Infer(gctx, def.model, req.Frame)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.log.Warn().Err(err).Str("camera_id", req.CameraID).Str("type", def.kind).Msg("Model call failed")
				mu.Lock()
				result.Failed = append(result.Failed, def.kind)
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}

			detections := toDetections(def, preds)
			mu.Lock()
			result.Detections = append(result.Detections, detections...)
			result.Counts[def.kind] += len(detections)
			if def.kind == TypeAngryEmotion {
				result.Emotions = preds
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(errs) > 0 && len(result.Failed) == p.enabledModels() {
		return nil, fmt.Errorf("all detection models failed: %w", errors.Join(errs...))
	}

	p.log.Debug().
		Str("camera_id", req.CameraID).
		Int("knife", result.Counts[TypeKnife]).
		Int("gun", result.Counts[TypeGun]).
		Int("mask", result.Counts[TypeMask]).
		Int("angry", result.Counts[TypeAngryEmotion]).
		Msg("Frame analyzed")

	if req.CameraID != "" {
		p.record(ctx, req, result)
	}
	return result, nil
}

func (p *Pipeline) lookup(kind string) (modelDef, bool) {
	for _, def := range p.defs {
		if def.kind == kind && def.model != "" {
			return def, true
		}
	}
	return modelDef{}, false
}

func (p *Pipeline) enabledModels() int {
	n := 0
	for _, def := range p.defs {
		if def.model != "" {
			n++
		}
	}
	return n
}

func toDetections(def modelDef, preds []Prediction) []models.Detection {
	detections := make([]models.Detection, 0, len(preds))
	for _, pr := range preds {
		if def.keep != nil && !def.keep(pr.Class) {
			continue
		}
		detections = append(detections, models.Detection{
			Type:       def.kind,
			Class:      pr.Class,
			Confidence: pr.Confidence,
			BBox: [4]float64{
				pr.X - pr.Width/2,
				pr.Y - pr.Height/2,
				pr.X + pr.Width/2,
				pr.Y + pr.Height/2,
			},
			Severity: def.severity,
		})
	}
	return detections
}

// record persists the outcome and raises an alert for threats. Failures
// here never affect the detection result.
func (p *Pipeline) record(ctx context.Context, req hub.DetectRequest, result *Result) {
	now := time.Now().UTC()
	entry := models.LogEntry{
		CameraID:   req.CameraID,
		CameraName: req.CameraName,
		Timestamp:  now,
	}

	if !result.HasThreat() {
		if p.recorder != nil {
			if _, err := p.recorder.RecordSafe(ctx, entry); err != nil {
				p.log.Warn().Err(err).Str("camera_id", req.CameraID).Msg("Failed to record safe frame")
			}
		}
		return
	}

	entry.ThreatTypes = result.ThreatTypes()
	entry.Detections = result.Counts
	if p.recorder != nil {
		if err := p.recorder.RecordThreat(ctx, entry); err != nil {
			p.log.Warn().Err(err).Str("camera_id", req.CameraID).Msg("Failed to record threat")
		}
	}

	p.log.Warn().
		Str("camera_id", req.CameraID).
		Strs("threats", entry.ThreatTypes).
		Msg("Threat detected")

	if p.emitter != nil {
		err := p.emitter.Emit(ctx, models.ThreatAlert{
			CameraID:    req.CameraID,
			CameraName:  req.CameraName,
			ThreatTypes: entry.ThreatTypes,
			Counts:      result.Counts,
			Detections:  result.Detections,
			Timestamp:   now,
		})
		if err != nil {
			p.log.Warn().Err(err).Str("camera_id", req.CameraID).Msg("Failed to emit threat alert")
		}
	}
}
