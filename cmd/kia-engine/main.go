package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bengawalk/kia-engine/internal/api"
	"github.com/bengawalk/kia-engine/internal/config"
	"github.com/bengawalk/kia-engine/internal/database"
	"github.com/bengawalk/kia-engine/internal/live"
	"github.com/bengawalk/kia-engine/internal/state"
	"github.com/bengawalk/kia-engine/internal/static"
	"github.com/bengawalk/kia-engine/internal/upstream"
)

var version = "dev"

func main() {
	// Config
	cfg, err := config.Load()
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("kia-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Open(cfg.DBPath, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	// Shared state
	st := state.New()

	// Static bundle: build synchronously once so the route maps are loaded
	// before any trips are scheduled, then rebuild daily and on input edits.
	bundle := static.NewService(cfg.InDir, cfg.OutDir, st, log)
	if err := bundle.RunOnce(); err != nil {
		log.Fatal().Err(err).Msg("initial bundle build failed")
	}
	go bundle.Run(ctx)

	watcher := static.NewWatcher(bundle, cfg.InDir, log)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Error().Err(err).Msg("input watcher stopped")
		}
	}()

	// Live pipeline
	client := upstream.NewClient(cfg.APIBaseURL, cfg.FetchTimeout, log)
	transformer := live.NewTransformer(db, log)

	scheduler := live.NewScheduler(st, cfg.QueryInterval, cfg.QueryAmount, log)
	go scheduler.Run(ctx)

	receiver := live.NewReceiver(st, client, transformer, log)
	go receiver.Run(ctx)

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	paths := api.BundlePaths{Zip: bundle.ZipPath(), Version: bundle.VersionPath()}
	srv := api.NewServer(cfg, st, paths, db, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	receiver.Wait()
	log.Info().Msg("kia-engine stopped")
}
