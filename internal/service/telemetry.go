package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"aquaflow/common/database"
	mqttcommon "aquaflow/common/mqtt"
	rediscommon "aquaflow/common/redis"
	"aquaflow/internal/config"
	"aquaflow/internal/consumer"
	"aquaflow/internal/discovery"
	httpapi "aquaflow/internal/http"
	"aquaflow/internal/livecache"
	"aquaflow/internal/metrics"
	"aquaflow/internal/repository"
	"aquaflow/internal/sampler"
	"aquaflow/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TelemetryService owns the live cache, the discovery registry and every user's sampler
type TelemetryService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	cache       *livecache.LiveCache
	registry    *discovery.Registry
	hub         *consumer.Hub
	router      *consumer.Router
	republisher *consumer.Republisher
	consumer    *consumer.MQTTConsumer
	sweeper     *livecache.Sweeper
	samplers    *SamplerService
	mirror      *SnapshotMirror
	server      *Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTelemetryService connects to Postgres, Redis and the broker and wires every component
func NewTelemetryService(cfg *config.Config, logger *zap.Logger) (*TelemetryService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		_ = rediscommon.Close(redisClient)
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		mqttClient.Disconnect()
		_ = rediscommon.Close(redisClient)
		_ = database.Close(db)
		return nil, err
	}

	s := &TelemetryService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
	}
	s.wire(store.NewRedisKV(redisClient), mqttClient, reg, m)
	return s, nil
}

func (s *TelemetryService) wire(kv store.KV, mqttClient *mqttcommon.Client, reg *prometheus.Registry, m *metrics.Metrics) {
	cfg := s.config
	logger := s.logger

	s.cache = livecache.New(
		livecache.WithActiveTimeout(cfg.Liveness.ActiveTimeout),
		livecache.WithExpiryTTL(cfg.Liveness.ExpiryTTL),
	)
	s.registry = discovery.NewRegistry()
	s.hub = consumer.NewHub(s.cache, s.registry)
	s.sweeper = livecache.NewSweeper(s.cache, cfg.Liveness.SweepInterval, m, logger)

	thresholdStore := repository.NewThresholdStore(kv, cfg.Valve.ThresholdKey)
	s.republisher = consumer.NewRepublisher(
		thresholdStore,
		mqttClient,
		cfg.Valve.ControlTopic,
		cfg.MQTT.QoS,
		cfg.Valve.Cooldown,
		m,
		logger,
	)

	topics := consumer.Topics{
		Generic:     cfg.Topics.Generic,
		Temperature: cfg.Topics.Temperature,
		Humidity:    cfg.Topics.Humidity,
		WaterLevel:  cfg.Topics.WaterLevel,
		WaterWeight: cfg.Topics.WaterWeight,
		ValveStatus: cfg.Topics.ValveStatus,
	}
	s.router = consumer.NewRouter(topics, s.cache, s.registry, s.republisher, m, logger)
	s.consumer = consumer.NewMQTTConsumer(mqttClient, topics, cfg.MQTT.QoS, s.router, logger)

	scheduler := sampler.NewScheduler(
		s.cache,
		repository.NewSampleRepository(s.db, logger),
		logger,
		sampler.WithMinInterval(cfg.Sampler.MinInterval),
		sampler.WithWriteTimeout(cfg.Sampler.WriteTimeout),
		sampler.WithMetrics(m),
	)
	s.samplers = NewSamplerService(scheduler, repository.NewSamplerSettingsRepository(s.db, logger), logger)

	if cfg.Mirror.Enabled {
		s.mirror = NewSnapshotMirror(s.hub, kv, cfg.Mirror.Key, cfg.Mirror.TTL, cfg.Mirror.Interval, logger)
	}

	router := httpapi.NewRouter(logger)
	router.RegisterTelemetryRoutes(httpapi.NewTelemetryHandler(
		s.hub,
		s.router,
		NewThresholdService(thresholdStore, s.republisher),
		logger,
	))
	router.RegisterSamplerRoutes(httpapi.NewSamplerHandler(s.samplers, logger))
	router.HandleHandler("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.server = NewServer(cfg.HTTP.Addr, router, logger)
}

// Start runs the background tasks, subscribes the broker topics and serves HTTP.
// It blocks until the HTTP server stops.
func (s *TelemetryService) Start(ctx context.Context) error {
	s.logger.Info("Starting telemetry service components")

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweeper.Run(ctx)
	}()

	if s.mirror != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.mirror.Run(ctx)
		}()
	}

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt consumer: %w", err)
	}

	if s.config.Sampler.RestoreOnBoot {
		if _, err := s.samplers.Restore(ctx); err != nil {
			s.logger.Error("Failed to restore samplers", zap.Error(err))
		}
	}

	s.logger.Info("Telemetry service started successfully")
	return s.server.Start()
}

// Stop shuts down in reverse order: HTTP, broker, samplers, background tasks, connections
func (s *TelemetryService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping telemetry service")

	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Error("Error stopping mqtt consumer", zap.Error(err))
	}

	s.samplers.Close()
	s.republisher.Wait()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Telemetry service stopped")
	return nil
}
