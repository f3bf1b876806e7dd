package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/config"
	"github.com/blogkit/analytics/internal/docstore"
	"github.com/blogkit/analytics/internal/resilience"
	"github.com/blogkit/analytics/internal/session"
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

	log = logger.WithService(log, "summary-service")
	log.Info("Starting Summary Service",
		zap.String("environment", cfg.Environment),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("kafka_topic", cfg.Kafka.Topic),
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

	sessionService := session.NewService(store, exec, logger.WithComponent(log, "session"))

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topics:  []string{cfg.Kafka.Topic},
		GroupID: "summary-service",
	}, sessionService.CreateMessageHandler(), log)
	if err != nil {
		log.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error("Consumer error", zap.Error(err))
		}
	}()

	<-consumer.WaitReady()
	log.Info("Kafka consumer is ready and consuming messages")

	// Roll up yesterday's traffic once per day so the numbers are in the logs
	// even when no dashboard asks for them.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logDailySummary(ctx, sessionService, log)
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Summary Service...")
	cancel()
	log.Info("Summary Service stopped")
}

func logDailySummary(ctx context.Context, svc *session.Service, log *zap.Logger) {
	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.Add(-24 * time.Hour)

	summaries, err := svc.DailySummary(ctx, from, to)
	if err != nil {
		log.Error("Daily summary failed", zap.Error(err))
		return
	}
	for _, s := range summaries {
		log.Info("Daily traffic summary",
			zap.String("date", s.Date),
			zap.Int64("views", s.Views),
			zap.Int64("unique_sessions", s.UniqueSessions),
		)
	}
}

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
		migrateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Migrate(migrateCtx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return store, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
