package handlers

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/camera-signaling/config"
	"github.com/mossy-p/camera-signaling/internal/detector"
	"github.com/mossy-p/camera-signaling/internal/hub"
	"github.com/mossy-p/camera-signaling/internal/models"
	"github.com/mossy-p/camera-signaling/internal/store"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryStore struct {
	mu      sync.Mutex
	cameras map[string]models.Camera
	logs    []models.LogEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{cameras: make(map[string]models.Camera)}
}

func (m *memoryStore) CreateCamera(ctx context.Context, camera models.Camera) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cameras[camera.ID] = camera
	return nil
}

func (m *memoryStore) GetCamera(ctx context.Context, id string) (*models.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	camera, ok := m.cameras[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &camera, nil
}

func (m *memoryStore) ListCameras(ctx context.Context) ([]models.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]models.Camera, 0, len(m.cameras))
	for _, c := range m.cameras {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (m *memoryStore) DeleteCamera(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cameras, id)
	return nil
}

func (m *memoryStore) ListLogs(ctx context.Context, logType models.LogType, limit int) ([]models.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LogEntry
	for _, e := range m.logs {
		if logType != "" && e.Type != logType {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

type fakeAnalyzer struct {
	result *detector.Result
	err    error

	mu      sync.Mutex
	batches [][]detector.BatchItem
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req hub.DetectRequest) (*detector.Result, error) {
	return f.result, f.err
}

func (f *fakeAnalyzer) Detect(ctx context.Context, req hub.DetectRequest) ([]models.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result.Detections, nil
}

func (f *fakeAnalyzer) DetectMask(ctx context.Context, image []byte) (*detector.MaskResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	masks := detector.FilterMasks([]detector.Prediction{{Class: "mask", Confidence: 0.8}, {Class: "no_mask", Confidence: 0.9}})
	return &detector.MaskResult{Predictions: masks, FilteredCount: len(masks), OriginalCount: 2}, nil
}

func (f *fakeAnalyzer) DetectEmotion(ctx context.Context, image []byte) ([]detector.Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result.Emotions, nil
}

func (f *fakeAnalyzer) Batch(ctx context.Context, items []detector.BatchItem) []detector.BatchResult {
	f.mu.Lock()
	f.batches = append(f.batches, items)
	f.mu.Unlock()

	results := make([]detector.BatchResult, len(items))
	for i, item := range items {
		results[i] = detector.BatchResult{
			CameraID:  item.CameraID,
			Knife:     []models.Detection{},
			Gun:       []models.Detection{},
			HasThreat: string(item.Frame) == "armed",
		}
	}
	return results
}

var gunResult = &detector.Result{
	Detections: []models.Detection{{
		Type:       detector.TypeGun,
		Class:      "pistol",
		Confidence: 0.91,
		BBox:       [4]float64{1, 2, 3, 4},
		Severity:   models.SeverityCritical,
	}},
	Counts:   map[string]int{detector.TypeGun: 1},
	Emotions: []detector.Prediction{{Class: "neutral", Confidence: 0.7}},
}

type testEnv struct {
	hub      *hub.Hub
	store    *memoryStore
	analyzer *fakeAnalyzer
	router   *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	analyzer := &fakeAnalyzer{result: gunResult}
	h := hub.New(analyzer, hub.Options{})
	t.Cleanup(func() { h.Shutdown(context.Background()) })

	st := newMemoryStore()
	cfg := &config.Config{
		AllowedOrigins: []string{"http://localhost:3000"},
		JWTSecret:      testSecret,
	}
	return &testEnv{
		hub:      h,
		store:    st,
		analyzer: analyzer,
		router: NewRouter(cfg, Deps{
			Hub:      h,
			Cameras:  st,
			Logs:     st,
			Analyzer: analyzer,
			Models:   analyzer,
		}),
	}
}
