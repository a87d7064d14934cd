package main

import (
	"context"
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
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := getEnv("CONFIG_PATH", "arena.yaml")
	config, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := setupServices(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire services")
	}
	if services.Pool != nil {
		defer services.Pool.Close()
	}

	log.Info().
		Str("port", config.Server.Port).
		Bool("nats", config.NATS.Enabled).
		Bool("database", config.Database.Enabled).
		Msg("starting arena coordinator")

	// Start the broadcast loop
	go services.Gateway.Start(ctx)

	// Start the event publisher
	if services.Publisher != nil {
		go services.Publisher.Start(ctx)
	}

	// Start the timer controller
	go func() {
		if err := services.Timer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("timer controller failed")
		}
	}()

	// Start HTTP server
	server := setupServer(config, services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	if services.Publisher != nil {
		services.Publisher.Stop()
	}

	// Give in-flight broadcasts time to drain
	time.Sleep(1 * time.Second)

	log.Info().Msg("arena coordinator shutdown complete")
}
