package detector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mossy-p/camera-signaling/config"
	"github.com/mossy-p/camera-signaling/internal/hub"
	"github.com/mossy-p/camera-signaling/internal/models"
)

var testModels = config.DetectorConfig{
	KnifeModel:   "knife/1",
	GunModel:     "gun/1",
	MaskModel:    "mask/1",
	EmotionModel: "emotion/1",
}

type fakeInferer struct {
	preds map[string][]Prediction
	errs  map[string]error
}

func (f *fakeInferer) Infer(ctx context.Context, model string, image []byte) ([]Prediction, error) {
	if err := f.errs[model]; err != nil {
		return nil, err
	}
	return f.preds[model], nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	threats []models.LogEntry
	safe    []models.LogEntry
}

func (f *fakeRecorder) RecordThreat(ctx context.Context, entry models.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threats = append(f.threats, entry)
	return nil
}

func (f *fakeRecorder) RecordSafe(ctx context.Context, entry models.LogEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.safe = append(f.safe, entry)
	return true, nil
}

type fakeEmitter struct {
	alerts []models.ThreatAlert
}

func (f *fakeEmitter) Emit(ctx context.Context, alert models.ThreatAlert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

func TestPipelineThreatFrame(t *testing.T) {
	inf := &fakeInferer{preds: map[string][]Prediction{
		"gun/1":     {{X: 100, Y: 100, Width: 40, Height: 20, Confidence: 0.91, Class: "pistol"}},
		"emotion/1": {{Class: "Happy", Confidence: 0.8}, {Class: "ANGRY", Confidence: 0.7}},
	}}
	rec := &fakeRecorder{}
	em := &fakeEmitter{}
	p := NewPipeline(inf, testModels, rec, em)

	result, err := p.Analyze(context.Background(), hub.DetectRequest{CameraID: "cam1", CameraName: "Lobby", Frame: []byte("x")})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	guns := result.ByType(TypeGun)
	if len(guns) != 1 {
		t.Fatalf("guns = %+v, want 1", guns)
	}
	want := [4]float64{80, 90, 120, 110}
	if guns[0].BBox != want || guns[0].Severity != models.SeverityCritical {
		t.Errorf("gun detection = %+v, want bbox %v critical", guns[0], want)
	}

	angry := result.ByType(TypeAngryEmotion)
	if len(angry) != 1 || angry[0].Class != "ANGRY" || angry[0].Severity != models.SeverityLow {
		t.Errorf("angry = %+v, want only the ANGRY prediction", angry)
	}
	if len(result.ByType(TypeKnife)) != 0 {
		t.Error("ByType(knife) should be empty")
	}

	if !result.HasThreat() {
		t.Error("HasThreat() = false, want true")
	}
	if got := result.ThreatTypes(); len(got) != 2 || got[0] != "Gun" || got[1] != "Angry Person" {
		t.Errorf("ThreatTypes() = %v, want [Gun Angry Person]", got)
	}

	if len(rec.threats) != 1 || len(rec.safe) != 0 {
		t.Fatalf("recorder threats=%d safe=%d, want 1/0", len(rec.threats), len(rec.safe))
	}
	if rec.threats[0].CameraName != "Lobby" || rec.threats[0].Detections[TypeGun] != 1 {
		t.Errorf("threat log = %+v", rec.threats[0])
	}
	if len(em.alerts) != 1 || em.alerts[0].CameraID != "cam1" {
		t.Errorf("alerts = %+v, want one for cam1", em.alerts)
	}
}

func TestPipelineSafeFrame(t *testing.T) {
	rec := &fakeRecorder{}
	em := &fakeEmitter{}
	p := NewPipeline(&fakeInferer{}, testModels, rec, em)

	dets, err := p.Detect(context.Background(), hub.DetectRequest{CameraID: "cam1", Frame: []byte("x")})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("Detect() = %+v, want none", dets)
	}
	if len(rec.safe) != 1 || len(rec.threats) != 0 || len(em.alerts) != 0 {
		t.Errorf("safe=%d threats=%d alerts=%d, want 1/0/0", len(rec.safe), len(rec.threats), len(em.alerts))
	}
}

func TestPipelineModelFailures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("partial failure", func(t *testing.T) {
		inf := &fakeInferer{
			preds: map[string][]Prediction{"knife/1": {{Class: "knife", Confidence: 0.6}}},
			errs:  map[string]error{"gun/1": boom, "mask/1": boom},
		}
		p := NewPipeline(inf, testModels, nil, nil)
		result, err := p.Analyze(context.Background(), hub.DetectRequest{Frame: []byte("x")})
		if err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
		if result.Counts[TypeKnife] != 1 || len(result.Failed) != 2 {
			t.Errorf("result = %+v, want one knife and two failed models", result)
		}
	})

	t.Run("all models fail", func(t *testing.T) {
		inf := &fakeInferer{errs: map[string]error{"knife/1": boom, "gun/1": boom, "mask/1": boom, "emotion/1": boom}}
		p := NewPipeline(inf, testModels, nil, nil)
		if _, err := p.Detect(context.Background(), hub.DetectRequest{Frame: []byte("x")}); !errors.Is(err, boom) {
			t.Fatalf("Detect() error = %v, want wrapped boom", err)
		}
	})

	t.Run("disabled model is skipped", func(t *testing.T) {
		cfg := testModels
		cfg.EmotionModel = ""
		inf := &fakeInferer{errs: map[string]error{"knife/1": boom, "gun/1": boom, "mask/1": boom}}
		p := NewPipeline(inf, cfg, nil, nil)
		if _, err := p.Detect(context.Background(), hub.DetectRequest{Frame: []byte("x")}); err == nil {
			t.Fatal("Detect() succeeded with every enabled model failing")
		}
	})
}
