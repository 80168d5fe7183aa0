package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rvera/gauntlet/go/internal/contest/outbox"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	database, dbConfig, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup database")
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	natsURL := getEnv("NATS_URL", nats.DefaultURL)
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatal().Err(err).Str("url", natsURL).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	publisher, err := outbox.NewNATSPublisher(nc)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}
	if err := publisher.EnsureStream(ctx, outbox.StreamName); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure event stream")
	}

	registry := prometheus.NewRegistry()
	metrics := outbox.NewPrometheusMetrics(registry)

	listenerConfig := outbox.DefaultListenerConfig()
	listenerConfig.DatabaseURL = dbConfig.DSN()
	listener, err := outbox.NewListener(database, publisher, metrics, listenerConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create outbox listener")
	}
	go func() {
		if err := listener.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("outbox listener stopped")
		}
	}()

	services, err := setupServices(ctx, database, config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}
	go func() {
		if err := services.Gateway.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("gateway stopped")
		}
	}()

	health := outbox.NewHealthChecker(database, nc)
	server := setupServer(services, health, registry, config.Server.Port)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("gauntlet server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := listener.Stop(); err != nil {
		log.Error().Err(err).Msg("listener stop error")
	}
}
