package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/camera-signaling/config"
	"github.com/mossy-p/camera-signaling/internal/alerts"
	"github.com/mossy-p/camera-signaling/internal/detector"
	"github.com/mossy-p/camera-signaling/internal/handlers"
	"github.com/mossy-p/camera-signaling/internal/hub"
	"github.com/mossy-p/camera-signaling/internal/logging"
	"github.com/mossy-p/camera-signaling/internal/redis"
	"github.com/mossy-p/camera-signaling/internal/store"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.Environment)
	cfg.LogSummary()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Redis
	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connection established")

	cameras := store.New(rdb, cfg.Store)

	// Optional alert transports
	var (
		emitters alerts.Multi
		nc       *nats.Conn
		mqttOut  *alerts.MQTTEmitter
	)
	if cfg.NATS.URL != "" {
		nc, err = alerts.ConnectNATS(cfg.NATS)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		emitters = append(emitters, alerts.NewNATSEmitter(nc, cfg.NATS.AlertsSubject))
	}
	if cfg.MQTT.Broker != "" {
		mqttOut = alerts.NewMQTTEmitter(cfg.MQTT)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := mqttOut.Connect(connectCtx)
		cancel()
		if err != nil {
			// The client keeps retrying in the background
			log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT not reachable yet")
		}
		emitters = append(emitters, mqttOut)
	}

	var emitter detector.AlertEmitter
	if len(emitters) > 0 {
		emitter = emitters
	}

	if cfg.Detector.APIKey == "" {
		log.Warn().Msg("DETECTOR_API_KEY is not set, model calls will be rejected")
	}
	pipeline := detector.NewPipeline(detector.NewClient(cfg.Detector), cfg.Detector, cameras, emitter)

	signaling := hub.New(pipeline, hub.Options{
		SendBufferSize:   cfg.Hub.SendBufferSize,
		DetectionWorkers: cfg.Hub.DetectionWorkers,
		DetectionTimeout: cfg.Hub.DetectionTimeout,
	})

	if nc != nil && cfg.NATS.DetectionsSubject != "" {
		if _, err := alerts.SubscribeDetections(nc, cfg.NATS.DetectionsSubject, signaling); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to detections")
		}
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(cfg, handlers.Deps{
		Hub:      signaling,
		Cameras:  cameras,
		Logs:     cameras,
		Analyzer: pipeline,
		Models:   pipeline,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("Starting camera signaling server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting first so no WebSocket is upgraded after the hub closes.
	// Hijacked connections are not tracked by the server; the hub closes them.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	if err := signaling.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Hub shutdown incomplete")
	}

	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("NATS drain failed")
		}
	}
	if mqttOut != nil {
		mqttOut.Close()
	}

	log.Info().Msg("Server stopped")
}
