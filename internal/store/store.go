package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mossy-p/camera-signaling/config"
	"github.com/mossy-p/camera-signaling/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	camerasKey = "cameras"
	logsKey    = "logs"
)

var ErrNotFound = errors.New("not found")

// Store persists camera metadata, threat counters and detection logs in Redis
type Store struct {
	rdb             *redis.Client
	safeLogInterval time.Duration
	retention       int
}

func New(rdb *redis.Client, cfg config.StoreConfig) *Store {
	if cfg.SafeLogInterval <= 0 {
		cfg.SafeLogInterval = 30 * time.Second
	}
	if cfg.LogRetention <= 0 {
		cfg.LogRetention = 1000
	}
	return &Store{
		rdb:             rdb,
		safeLogInterval: cfg.SafeLogInterval,
		retention:       cfg.LogRetention,
	}
}

func cameraKey(id string) string   { return "camera:" + id }
func threatsKey(id string) string  { return "camera:" + id + ":threats" }
func lastSeenKey(id string) string { return "camera:" + id + ":last_seen" }
func safeLockKey(id string) string { return "camera:" + id + ":safe_lock" }

func (s *Store) CreateCamera(ctx context.Context, camera models.Camera) error {
	data, err := json.Marshal(camera)
	if err != nil {
		return fmt.Errorf("failed to marshal camera: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, cameraKey(camera.ID), data, 0)
		pipe.SAdd(ctx, camerasKey, camera.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store camera %s: %w", camera.ID, err)
	}
	return nil
}

// GetCamera loads a camera with its current threat count and last seen time
func (s *Store) GetCamera(ctx context.Context, id string) (*models.Camera, error) {
	data, err := s.rdb.Get(ctx, cameraKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load camera %s: %w", id, err)
	}

	var camera models.Camera
	if err := json.Unmarshal(data, &camera); err != nil {
		return nil, fmt.Errorf("failed to parse camera %s: %w", id, err)
	}

	threats, err := s.rdb.Get(ctx, threatsKey(id)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load threat count for %s: %w", id, err)
	}
	camera.Threats = threats

	lastSeen, err := s.rdb.Get(ctx, lastSeenKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load last seen for %s: %w", id, err)
	}
	camera.LastSeen = lastSeen

	return &camera, nil
}

// ListCameras returns every registered camera, oldest first
func (s *Store) ListCameras(ctx context.Context) ([]models.Camera, error) {
	ids, err := s.rdb.SMembers(ctx, camerasKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}

	cameras := make([]models.Camera, 0, len(ids))
	for _, id := range ids {
		camera, err := s.GetCamera(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, *camera)
	}

	sort.Slice(cameras, func(i, j int) bool {
		return cameras[i].CreatedAt.Before(cameras[j].CreatedAt)
	})
	return cameras, nil
}

func (s *Store) DeleteCamera(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cameraKey(id), threatsKey(id), lastSeenKey(id), safeLockKey(id))
		pipe.SRem(ctx, camerasKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete camera %s: %w", id, err)
	}
	return nil
}

// RecordThreat counts a threat frame for the camera and appends its log entry
func (s *Store) RecordThreat(ctx context.Context, entry models.LogEntry) error {
	entry.Type = models.LogTypeThreat
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, threatsKey(entry.CameraID))
		pipe.Set(ctx, lastSeenKey(entry.CameraID), entry.Timestamp.UTC().Format(time.RFC3339), 0)
		pipe.LPush(ctx, logsKey, data)
		pipe.LTrim(ctx, logsKey, 0, int64(s.retention-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record threat for %s: %w", entry.CameraID, err)
	}
	return nil
}

// RecordSafe marks the camera as seen and appends a safe log at most once
// per safe log interval. It reports whether a log entry was written.
func (s *Store) RecordSafe(ctx context.Context, entry models.LogEntry) (bool, error) {
	entry.Type = models.LogTypeSafe

	if err := s.rdb.Set(ctx, lastSeenKey(entry.CameraID), entry.Timestamp.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return false, fmt.Errorf("failed to update last seen for %s: %w", entry.CameraID, err)
	}

	acquired, err := s.rdb.SetNX(ctx, safeLockKey(entry.CameraID), 1, s.safeLogInterval).Result()
	if err != nil {
		return false, fmt.Errorf("failed to throttle safe log for %s: %w", entry.CameraID, err)
	}
	if !acquired {
		return false, nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal log entry: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, logsKey, data)
		pipe.LTrim(ctx, logsKey, 0, int64(s.retention-1))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record safe log for %s: %w", entry.CameraID, err)
	}
	return true, nil
}

// ListLogs returns the newest log entries, optionally filtered by type
func (s *Store) ListLogs(ctx context.Context, logType models.LogType, limit int) ([]models.LogEntry, error) {
	if limit <= 0 || limit > s.retention {
		limit = s.retention
	}

	raw, err := s.rdb.LRange(ctx, logsKey, 0, int64(s.retention-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}

	logs := make([]models.LogEntry, 0, limit)
	for _, item := range raw {
		if len(logs) == limit {
			break
		}
		var entry models.LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		if logType != "" && entry.Type != logType {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}
