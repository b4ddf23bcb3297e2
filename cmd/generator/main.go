package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stockgen-ai/generator/internal/generator"
	"github.com/stockgen-ai/generator/internal/keypool"
	"github.com/stockgen-ai/generator/internal/providers"
	"github.com/stockgen-ai/generator/internal/shared/config"
	"github.com/stockgen-ai/generator/internal/shared/database"
	"github.com/stockgen-ai/generator/internal/shared/redis"
	"github.com/stockgen-ai/generator/internal/status"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Env == "production" {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	logger.Info().
		Str("generator", cfg.GeneratorName).
		Str("prompt_file", cfg.PromptFileName).
		Str("env", cfg.Env).
		Msg("starting stockgen worker")

	// Cancelled on SIGINT/SIGTERM; the loop observes it between cycles.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Conversation store
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	logger.Info().Msg("connected to PostgreSQL")

	// Credential pool store (may share the conversation database)
	keysDB := db
	if cfg.KeysDatabaseURL != cfg.DatabaseURL {
		keysDB, err = database.New(cfg.KeysDatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to keys database")
		}
		defer keysDB.Close()
	}

	// Redis usage counters (optional fast path over the durable ledger)
	var counters keypool.UsageCounter
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, usage counters disabled")
	} else {
		defer redisClient.Close()
		counters = redisClient
		logger.Info().Msg("connected to Redis")
	}

	// Lease manager and generators
	leases := keypool.NewManager(keypool.NewSQLStore(keysDB.Conn()), counters, cfg.GeneratorName, logger)
	orch := generator.NewOrchestrator(leases, logger)
	backend := providers.NewOpenAIBackend(cfg.BackendBaseURL)
	text := generator.NewTextGenerator(orch, backend, db, cfg, logger)
	image := generator.NewImageGenerator(orch, backend, cfg.ImageModel, logger)
	runner := generator.NewRunner(cfg, db, leases, text, image, logger)

	// Status server (health + metrics)
	srv := status.NewServer(cfg.StatusPort)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("status server failed")
		}
	}()

	if err := runner.Bootstrap(ctx); err != nil {
		logger.Error().Err(err).Msg("cannot bootstrap generation loop")
		cleanup(leases, srv, logger)
		os.Exit(1)
	}

	runner.Run(ctx)

	logger.Info().Msg("shutting down")
	cleanup(leases, srv, logger)
}

// cleanup releases every held credential lease before the process exits;
// leases have no server-side TTL, so skipping this leaks them permanently.
func cleanup(leases *keypool.Manager, srv *http.Server, logger zerolog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if released := leases.ReleaseAll(shutdownCtx); released > 0 {
		logger.Info().Int("released", released).Msg("released held leases")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("status server shutdown error")
	}
}
