package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mossy-p/camera-signaling/config"
	"github.com/mossy-p/camera-signaling/internal/models"
	"github.com/rs/zerolog/log"
)

const mqttPublishTimeout = 5 * time.Second

// MQTTEmitter publishes alerts to {topic}/{camera_id}
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
}

func NewMQTTEmitter(cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg}
}

// Connect establishes the broker connection with automatic reconnects
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		log.Info().Str("broker", e.cfg.Broker).Msg("MQTT connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		log.Warn().Err(err).Str("broker", e.cfg.Broker).Msg("MQTT connection lost, will auto-reconnect")
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) Topic(cameraID string) string {
	return fmt.Sprintf("%s/%s", e.cfg.Topic, cameraID)
}

func (e *MQTTEmitter) Emit(ctx context.Context, alert models.ThreatAlert) error {
	if e.client == nil || !e.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := e.client.Publish(e.Topic(alert.CameraID), 1, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish timeout")
	}
	return token.Error()
}

// Close disconnects from the broker, allowing in-flight publishes to finish
func (e *MQTTEmitter) Close() {
	if e.client != nil {
		e.client.Disconnect(250)
	}
}
