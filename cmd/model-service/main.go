package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/modelhub/pkg/common/config"
	"github.com/synaptica-ai/modelhub/pkg/common/database"
	"github.com/synaptica-ai/modelhub/pkg/common/kafka"
	"github.com/synaptica-ai/modelhub/pkg/common/logger"
	"github.com/synaptica-ai/modelhub/pkg/common/middleware"
	"github.com/synaptica-ai/modelhub/pkg/ml/classifier"
	"github.com/synaptica-ai/modelhub/pkg/registry"
)

func main() {
	logger.Init()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	db, err := database.Open(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to row store")
	}
	defer database.Close(db)

	repo := registry.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.WithError(err).Fatal("Failed to migrate models table")
	}

	catalog, err := classifier.LoadCatalog(cfg.ClassifierCatalogPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load classifier catalog")
	}

	var redisClient *redis.Client
	var locker registry.Locker
	switch cfg.RowLockMode {
	case config.LockLocal:
		locker = registry.NewLocalLocker()
	case config.LockRedis:
		redisClient, err = database.OpenRedis(context.Background(), cfg)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer database.CloseRedis(redisClient)
		locker = registry.NewRedisLocker(redisClient, cfg.RowLockTTL)
	}

	var events registry.Publisher
	if cfg.KafkaEnabled() {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer producer.Close()
		events = producer
	}

	service := registry.NewService(repo, catalog, locker, events)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if cfg.KafkaEnabled() && cfg.KafkaTrainTopic != "" {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTrainTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		go func() {
			logger.WithField("topic", cfg.KafkaTrainTopic).Info("Consuming train events")
			if err := consumer.Consume(consumerCtx, service.HandleEvent); err != nil && err != context.Canceled {
				logger.WithError(err).Error("Train event consumer stopped")
			}
		}()
	}

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	registry.NewHTTPHandler(service).Register(router)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithFields(map[string]interface{}{
			"host":      cfg.ServerHost,
			"port":      cfg.ServerPort,
			"driver":    cfg.DBDriver,
			"lock_mode": cfg.RowLockMode,
		}).Info("Model Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Model Service...")
	stopConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Model Service stopped")
}
