package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/moderation-engine/internal/app"
	"github.com/jwalitptl/moderation-engine/internal/config"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := app.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err, "failed to initialize")
	}
	defer engine.Close()

	if err := engine.Serve(ctx); err != nil {
		logger.Error(err, "server stopped with error")
		engine.Close()
		os.Exit(1)
	}

	logger.Info("server exited properly")
}
