// Command coursecache serves cached course, enrollment, and user
// reports backed by the upstream school API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursecache/internal/config"
	"coursecache/internal/server"
	"coursecache/internal/store"
	"coursecache/pkg/cache"
	"coursecache/pkg/client"
	"coursecache/pkg/logging"
	"coursecache/pkg/service"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		// Logging is not configured yet; use the default global logger.
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger := logging.NewLogger("main")

	db, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()
	logger.Info().Msg("Database ready")

	// Response memoization is optional; without Redis every request
	// goes to the upstream API.
	var responseCache *cache.Manager
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		responseCache = cache.NewManager(redisClient, cfg.ResponseCacheTTL())
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Response cache enabled")
	}

	clientCfg := client.DefaultConfig(cfg.APIBaseURL, cfg.APIKey)
	clientCfg.PageSize = cfg.PageSize
	clientCfg.HTTPTimeout = cfg.HTTPTimeout()
	clientCfg.Retry.MaxAttempts = cfg.MaxAttempts
	clientCfg.Retry.BaseDelay = cfg.BaseDelay()
	clientCfg.Cache = responseCache

	apiClient, err := client.New(clientCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API client")
	}

	svc, err := service.New(apiClient,
		store.NewCourseStore(db),
		store.NewEnrollmentStore(db),
		store.NewUserStore(db),
		service.Config{
			TTL:         cfg.CacheTTL(),
			BatchSize:   cfg.BatchSize,
			Concurrency: cfg.UserConcurrency,
			Strategy:    service.ResolveStrategy(cfg.UserResolveStrategy),
		})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create service")
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.New(svc).Router(),
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown incomplete")
	}
}
