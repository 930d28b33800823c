// Package main provides the Legislative Engine API server entrypoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/app"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config YAML")
	migrate := flag.Bool("migrate", false, "apply the index schema on startup")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Str("embedding", cfg.Embedding.Provider).
		Str("generation", cfg.Generation.Provider).
		Msg("Starting Legislative Engine API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, logger, app.Options{Migrate: *migrate})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize engine")
	}
	defer engine.Close()

	router := NewRouter(logger, Services{
		Engine: engine.Engine,
		Batch:  engine.Batch,
		RPC:    engine.Engine,
		Ready:  engine.Ready,
	}, RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: []string{"*"},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := engine.WatchInvalidations(gctx); err != nil {
			logger.Warn().Err(err).Msg("Index invalidations unavailable; restart to pick up re-indexing")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
			return srv.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server error")
	}
	logger.Info().Msg("Server stopped")
}
