package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scissor-app/scissor/internal/config"
	"github.com/scissor-app/scissor/internal/handler"
	"github.com/scissor-app/scissor/internal/middleware"
	"github.com/scissor-app/scissor/internal/qr"
	"github.com/scissor-app/scissor/internal/repository"
	"github.com/scissor-app/scissor/internal/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := repository.NewPostgresDB(cfg.DB)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repository.InitSchema(ctx, db); err != nil {
		cancel()
		logger.Fatal("Failed to initialize schema", zap.Error(err))
	}
	cancel()

	redis, err := repository.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	mappingRepo := repository.NewMappingRepository(db)
	tombstoneRepo := repository.NewTombstoneRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	cacheRepo := repository.NewCacheRepository(redis, time.Duration(cfg.Cache.TTLSeconds)*time.Second)

	artifacts, err := qr.NewArtifactStore(cfg.QR.Dir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize QR artifact store", zap.Error(err))
	}

	lifecycle := service.NewLifecycleService(
		mappingRepo, tombstoneRepo, accountRepo, cacheRepo, artifacts, cfg.App.BaseURL, logger)
	resolver := service.NewResolver(
		mappingRepo, accountRepo, cacheRepo, cfg.App.DefaultDomain, logger)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
	})

	identity := middleware.NewIdentity(middleware.IdentityConfig{Keys: cfg.Auth.APIKeys})
	logger.Info("API key identity enabled", zap.Int("keys_count", len(cfg.Auth.APIKeys)))

	router := handler.NewRouter(lifecycle, resolver, rateLimiter, identity.Middleware(), logger)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
