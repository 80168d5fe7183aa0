package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rvera/gauntlet/go/internal/contest"
	"github.com/rvera/gauntlet/go/internal/contest/orchestrator"
	"github.com/rvera/gauntlet/go/internal/contest/outbox"
	"github.com/rvera/gauntlet/go/internal/contest/repository"
	"github.com/rvera/gauntlet/go/internal/dbconfig"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	natsURL := getEnv("NATS_URL", nats.DefaultURL)
	dbCfg := dbconfig.NewConfigFromEnv()

	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", natsURL).
		Msg("starting auto-advance orchestrator")

	contestRepo := repository.NewRepository(db)
	outboxRepo := outbox.NewRepository(db)
	contestApp := contest.NewApp(contestRepo, outboxRepo, clockwork.NewRealClock(), contest.Config{
		EvaluationPeriodMins: getEnvInt("EVALUATION_PERIOD_MINS", 60),
		FinalCountdownMins:   getEnvInt("FINAL_COUNTDOWN_MINS", 30),
	})

	orch := orchestrator.NewOrchestrator(contestApp, clockwork.NewRealClock())

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Info().Msg("starting orchestrator scheduler")
		if err := orch.RunScheduler(ctx); err != nil {
			log.Error().Err(err).Msg("orchestrator scheduler failed")
		}
	}()

	eventConsumer, err := orchestrator.NewEventConsumer(ctx, natsURL, orch)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup event consumer")
	}
	defer eventConsumer.Close()

	go func() {
		log.Info().Msg("starting NATS event consumer")
		if err := eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("NATS event consumer failed")
		}
	}()

	// Add health check endpoint
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":8082", // Different port from main service
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health check server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health check server shutdown failed")
	}

	cancel()

	// Give the scheduler and consumer time to clean up
	time.Sleep(2 * time.Second)

	log.Info().Msg("orchestrator shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
