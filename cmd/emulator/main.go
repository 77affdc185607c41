package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"Evergreen.telemetry/internal/config"
	"Evergreen.telemetry/internal/emulator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.LoadEmulatorConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error loading emulator configuration")
	}
	logger := zerolog.New(os.Stdout).Level(cfg.LogLevel).With().Timestamp().Str("service", "evergreen-emulator").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emulator.New(cfg.BackendURL, logger).Run(ctx, cfg.BasinIDs, cfg.Interval)
}
