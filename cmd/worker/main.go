package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"authgate/internal/cache"
	"authgate/internal/config"
	"authgate/internal/log"
	"authgate/internal/mail"
	"authgate/internal/queue"
	"authgate/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment).With().Str("service", "mail-worker").Logger()

	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	renderer, err := mail.NewRenderer(cfg.App.Name)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load mail templates")
	}

	sender, err := mail.NewSMTPSender(cfg.Mail.SMTP)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid smtp settings")
	}

	processor := tasks.NewMailProcessor(renderer, sender, logger)
	consumer := queue.NewConsumer(client, cfg.Mail, logger, processor)

	logger.Info().Str("stream", cfg.Mail.Stream).Msg("mail worker started")
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped unexpectedly")
		return
	}
	logger.Info().Msg("mail worker stopped")
}
