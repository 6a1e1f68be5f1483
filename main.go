package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/sljivkov/pricestream/config"
	"github.com/sljivkov/pricestream/logger"
)

func main() {
	// load environment variables
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(logger.Options{
		Production: cfg.Env().IsProduction(),
		Level:      cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := setup(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}

	retry := make(chan os.Signal, 1)
	signal.Notify(retry, syscall.SIGHUP)

	defer signal.Stop(retry)

	log.Info().
		Str("source", cfg.Source).
		Str("environment", cfg.Env().String()).
		Msg("🚀 starting price stream client")

	app.Run(ctx, retry)
}
