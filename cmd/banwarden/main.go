// Command banwarden is a headless daemon: it runs the scheduled
// reconciliation loop against every configured ban source until it receives
// SIGINT or SIGTERM, with no HTTP surface of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"go.banwarden.dev/banwarden/internal/bootstrap"
	"go.banwarden.dev/banwarden/internal/shared/config"
	"go.banwarden.dev/banwarden/internal/shared/logger"

	_ "go.banwarden.dev/banwarden/internal/adapter/htmltable"
	_ "go.banwarden.dev/banwarden/internal/adapter/ssjson"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration document")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, flag.Args()); err != nil {
		log.Error().Err(err).Msg("banwarden exited with an error")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, extraArgs []string) error {
	cfg, err := config.Load(configPath, extraArgs)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err := logger.SetupGlobalLogger(ctx, cfg.Log.Level, cfg.Log.Pretty, cfg.Log.NoColor, cfg.Log.File, true); err != nil {
		return fmt.Errorf("set up logger: %w", err)
	}

	log.Info().Msg("starting banwarden")

	app, err := bootstrap.Build(ctx, cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	log.Info().Msg("banwarden running, press ctrl-c to stop")
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	log.Info().Msg("banwarden stopped cleanly")
	return nil
}
