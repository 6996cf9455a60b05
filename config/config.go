package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	NATS           NATSConfig
	MQTT           MQTTConfig
	Detector       DetectorConfig
	Hub            HubConfig
	Store          StoreConfig

	// EnvFileLoaded reports whether a .env file was read
	EnvFileLoaded bool
	// Invalid lists KEY=value pairs that failed to parse and fell back to defaults
	Invalid []string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig is disabled when URL is empty
type NATSConfig struct {
	URL               string
	AlertsSubject     string
	DetectionsSubject string
	ConnectTimeout    time.Duration
	ReconnectWait     time.Duration
	MaxReconnects     int
}

// MQTTConfig is disabled when Broker is empty
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

type DetectorConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	KnifeModel   string
	GunModel     string
	MaskModel    string
	EmotionModel string
}

type HubConfig struct {
	SendBufferSize   int
	DetectionWorkers int
	DetectionTimeout time.Duration
}

type StoreConfig struct {
	SafeLogInterval time.Duration
	LogRetention    int
}

// Load reads the configuration without logging, so it can run before the
// logger is set up. Call LogSummary once logging is configured.
func Load() *Config {
	// Load .env file if it exists
	envFileLoaded := godotenv.Load() == nil

	var l loader

	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       l.getEnvInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:               getEnv("NATS_URL", ""),
			AlertsSubject:     getEnv("NATS_ALERTS_SUBJECT", "alerts.threats"),
			DetectionsSubject: getEnv("NATS_DETECTIONS_SUBJECT", "detections.>"),
			ConnectTimeout:    l.getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
			ReconnectWait:     l.getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
			MaxReconnects:     l.getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		},
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", ""),
			ClientID: getEnv("MQTT_CLIENT_ID", "camera-signaling"),
			Topic:    getEnv("MQTT_TOPIC", "cameras/threats"),
		},
		Detector: DetectorConfig{
			BaseURL:      getEnv("DETECTOR_BASE_URL", "https://detect.roboflow.com"),
			APIKey:       getEnv("DETECTOR_API_KEY", ""),
			Timeout:      l.getEnvDuration("DETECTOR_TIMEOUT", 15*time.Second),
			KnifeModel:   getEnv("DETECTOR_MODEL_KNIFE", "knife-detection-bstjz/2"),
			GunModel:     getEnv("DETECTOR_MODEL_GUN", "gun-detection-ghlzd/4"),
			MaskModel:    getEnv("DETECTOR_MODEL_MASK", "face-mask-detection-2gpmy/1"),
			EmotionModel: getEnv("DETECTOR_MODEL_EMOTION", "emotion-detection-cwq4g/1"),
		},
		Hub: HubConfig{
			SendBufferSize:   l.getEnvInt("SEND_BUFFER_SIZE", 256),
			DetectionWorkers: l.getEnvInt("DETECTION_WORKERS", 4),
			DetectionTimeout: l.getEnvDuration("DETECTION_TIMEOUT", 20*time.Second),
		},
		Store: StoreConfig{
			SafeLogInterval: l.getEnvDuration("SAFE_LOG_INTERVAL", 30*time.Second),
			LogRetention:    l.getEnvInt("LOG_RETENTION", 1000),
		},
		EnvFileLoaded: envFileLoaded,
	}
	cfg.Invalid = l.invalid
	return cfg
}

// LogSummary reports how the configuration was loaded
func (c *Config) LogSummary() {
	if c.EnvFileLoaded {
		log.Info().Msg("Loaded configuration from .env file")
	} else {
		log.Debug().Msg("No .env file found, using environment variables and defaults")
	}
	for _, kv := range c.Invalid {
		log.Warn().Str("setting", kv).Msg("Invalid value in environment, using default")
	}
}

type loader struct {
	invalid []string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (l *loader) getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		l.invalid = append(l.invalid, key+"="+value)
	}
	return defaultValue
}

func (l *loader) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		l.invalid = append(l.invalid, key+"="+value)
	}
	return defaultValue
}
