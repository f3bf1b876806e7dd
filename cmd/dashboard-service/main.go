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
	"github.com/blogkit/analytics/internal/dashboard"
	"github.com/blogkit/analytics/internal/docstore"
	"github.com/blogkit/analytics/internal/performance"
	"github.com/blogkit/analytics/internal/presence"
	"github.com/blogkit/analytics/internal/resilience"
	"github.com/blogkit/analytics/internal/session"
	"github.com/blogkit/analytics/internal/trending"
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

	log = logger.WithService(log, "dashboard-service")
	log.Info("Starting Dashboard Service",
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

	tracker := presence.NewTracker(store, logger.WithComponent(log, "presence"))
	scorer := trending.NewScorer(store, cfg.Analytics.TrendingThreshold, logger.WithComponent(log, "trending"))
	aggregator := performance.NewAggregator(store, scorer, logger.WithComponent(log, "performance"))

	composer := dashboard.NewComposer(store, tracker, scorer, aggregator, exec, dashboard.ComposerConfig{
		SiteHost:        cfg.Analytics.SiteHost,
		ActiveWindow:    cfg.Analytics.ActiveWindow,
		RealtimeRefresh: cfg.Analytics.RealtimeRefresh,
	}, logger.WithComponent(log, "dashboard"))

	cache := resilience.NewStaleCache[*dashboard.Data](cfg.Resilience.CacheSize, cfg.Resilience.StaleTime)
	sessionService := session.NewService(store, exec, logger.WithComponent(log, "session"))
	dashboardHandler := dashboard.NewHandler(composer, cache, sessionService, logger.WithComponent(log, "dashboard"))

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	go tracker.RunSweeper(ctx, cfg.Analytics.SweepInterval, cfg.Analytics.SweepMaxAge)
	go runHealthTicker(ctx, store, cfg.Analytics.HealthInterval, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "dashboard-service"})
	})
	dashboardHandler.Register(router.Group("/api"))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	log.Info("Shutting down Dashboard Service...")
	cancelBackground()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	log.Info("Dashboard Service stopped")
}

// runHealthTicker probes the store on an interval so backend outages show up
// in the logs before a dashboard request trips the breaker.
func runHealthTicker(ctx context.Context, store docstore.Store, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := store.Count(probeCtx, presence.CollectionVisitors, nil)
			cancel()
			if err != nil {
				log.Warn("store health check failed", zap.Error(err))
			}
		}
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
