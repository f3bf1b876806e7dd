package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/config"
	"github.com/blogkit/analytics/internal/docstore"
	"github.com/blogkit/analytics/internal/ingest"
	"github.com/blogkit/analytics/internal/performance"
	"github.com/blogkit/analytics/internal/presence"
	"github.com/blogkit/analytics/internal/resilience"
	"github.com/blogkit/analytics/internal/trending"
	"github.com/blogkit/analytics/pkg/kafka"
	"github.com/blogkit/analytics/pkg/logger"
	"github.com/blogkit/analytics/pkg/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log = logger.WithService(log, "tracker-service")
	log.Info("Starting Tracker Service",
		zap.String("environment", cfg.Environment),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store_backend", cfg.Store.Backend),
	)

	store, cleanup, err := buildStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize document store", zap.Error(err))
	}
	defer cleanup()

	exec := resilience.New(resilience.Config{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
		BaseDelay:        cfg.Resilience.BaseDelay,
		MaxDelay:         cfg.Resilience.MaxDelay,
		Multiplier:       cfg.Resilience.Multiplier,
		Jitter:           cfg.Resilience.Jitter,
	}, log)

	var producer ingest.Publisher
	if cfg.Kafka.Enabled {
		p, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.Topic,
			Retries:          cfg.Kafka.ProducerRetries,
			Timeout:          cfg.Kafka.ProducerTimeout,
			RequiredAcks:     cfg.Kafka.RequiredAcks,
			Compression:      cfg.Kafka.CompressionType,
			IdempotentWrites: cfg.Kafka.IdempotentWrites,
			MaxMessageBytes:  cfg.Kafka.MaxMessageBytes,
		}, log)
		if err != nil {
			log.Fatal("Failed to create Kafka producer", zap.Error(err))
		}
		defer p.Close()
		producer = p
	} else {
		log.Warn("Kafka publishing disabled, session events will not flow downstream")
	}

	tracker := presence.NewTracker(store, logger.WithComponent(log, "presence"))
	scorer := trending.NewScorer(store, cfg.Analytics.TrendingThreshold, logger.WithComponent(log, "trending"))
	aggregator := performance.NewAggregator(store, scorer, logger.WithComponent(log, "performance"))
	ingestService := ingest.NewService(store, exec, tracker, aggregator, producer, logger.WithComponent(log, "ingest"))
	ingestHandler := ingest.NewHandler(ingestService, logger.WithComponent(log, "ingest"))

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "tracker-service"})
	})
	ingestHandler.Register(router.Group("/api"))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Tracker Service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	log.Info("Tracker Service stopped")
}

// buildStore wires the configured document store backend. The memory backend
// exists for local development and tests.
func buildStore(cfg *config.Config, log *zap.Logger) (docstore.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return docstore.NewMemory(), func() {}, nil
	case "postgres":
		db, err := postgres.New(postgres.Config{
			DSN:             cfg.Postgres.PostgresDSN(),
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		store := docstore.NewPostgres(db, cfg.Store.PollInterval, log)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return store, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
