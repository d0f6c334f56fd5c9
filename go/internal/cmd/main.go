package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("could not load .env file, using environment as-is")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if getEnv("LOG_PRETTY", "false") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	config, err := loadConfig(getEnv("CONFIG_FILE", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	database, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up database")
	}
	defer database.Close()

	services := setupServices(database, config)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := services.BroadcastPool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start broadcast pool")
	}

	if err := services.Reconciler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start outbox reconciler")
	}

	if services.Collector != nil {
		if err := services.Collector.Schedule(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to schedule collector")
		}
	} else {
		log.Warn().Msg("no feed URL configured, data collection disabled")
	}

	server := setupServer(services, config)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	if services.Collector != nil {
		services.Collector.Stop()
	}
	if err := services.Reconciler.Stop(); err != nil {
		log.Error().Err(err).Msg("reconciler stop failed")
	}
	services.BroadcastPool.Stop()

	log.Info().Msg("shutdown complete")
}
