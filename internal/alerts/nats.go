package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mossy-p/camera-signaling/config"
	"github.com/mossy-p/camera-signaling/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// ConnectNATS opens the shared NATS connection
func ConnectNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("camera-signaling"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	log.Info().Str("url", cfg.URL).Msg("NATS connection established")
	return conn, nil
}

// NATSEmitter publishes alerts as JSON on a subject
type NATSEmitter struct {
	conn    *nats.Conn
	subject string
}

func NewNATSEmitter(conn *nats.Conn, subject string) *NATSEmitter {
	return &NATSEmitter{conn: conn, subject: subject}
}

func (e *NATSEmitter) Emit(ctx context.Context, alert models.ThreatAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := e.conn.Publish(e.subject, payload); err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", e.subject, err)
	}
	return nil
}

// DetectionPublisher receives detection events for fan-out
type DetectionPublisher interface {
	PublishDetections(event models.DetectionEvent) int
}

// SubscribeDetections feeds detection events published on subject by
// external producers into the hub. Subjects like "detections.cam1" supply
// the camera id when the payload omits it.
func SubscribeDetections(conn *nats.Conn, subject string, publisher DetectionPublisher) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handleDetectionMessage(publisher, msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	log.Info().Str("subject", subject).Msg("Subscribed to external detections")
	return sub, nil
}

func handleDetectionMessage(publisher DetectionPublisher, subject string, data []byte) int {
	var event models.DetectionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Discarding malformed detection event")
		return 0
	}

	if event.CameraID == "" {
		if i := strings.LastIndexByte(subject, '.'); i >= 0 && i < len(subject)-1 {
			event.CameraID = subject[i+1:]
		}
	}
	if event.CameraID == "" {
		log.Warn().Str("subject", subject).Msg("Discarding detection event without camera")
		return 0
	}

	return publisher.PublishDetections(event)
}
