package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authgate/internal/cache"
	"authgate/internal/config"
	"authgate/internal/database"
	"authgate/internal/handlers"
	"authgate/internal/jobs"
	"authgate/internal/log"
	"authgate/internal/mail"
	"authgate/internal/metrics"
	"authgate/internal/repository"
	"authgate/internal/security"
	"authgate/internal/server"
	"authgate/internal/service"
	"authgate/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if cfg.Postgres.MigrateOnStart {
		if err := database.Migrate(ctx, dbPool); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.EnsureBucket(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure bucket failed")
	}

	tokens, err := security.NewTokenCodec(cfg.Auth)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init token codec")
	}
	hasher, err := security.NewPasswordHasher(cfg.Password)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init password hasher")
	}

	appMetrics := metrics.New()
	repos := repository.NewStore(dbPool)
	store := service.NewStore(repos)
	outbox := mail.NewOutbox(redisClient, cfg.Mail, cfg.App.FrontendDomain)

	authService := service.NewAuthService(store, tokens, hasher, outbox, appMetrics, cfg, logger)
	userService := service.NewUserService(store, hasher, logger)
	fileService := service.NewFileService(store, objectStore, cfg, logger)

	handlerSet := handlers.NewHandlerSet(logger, cfg, handlers.Dependencies{
		Auth:     authService,
		Users:    userService,
		Files:    fileService,
		Tokens:   tokens,
		Sessions: store.Sessions(),
		Checks: map[string]handlers.HealthCheck{
			"postgres": repos.Ping,
			"redis":    cache.Ping(redisClient),
			"storage":  objectStore.Ping,
		},
	})
	httpServer := server.NewHTTPServer(cfg, logger, appMetrics, handlerSet)

	scheduler := jobs.NewScheduler(repos.Sessions, outbox, appMetrics, cfg.Sessions, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler stop timed out")
	}

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
