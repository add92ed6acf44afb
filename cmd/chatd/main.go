package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/coursechat/internal/api"
	"github.com/eldtechnologies/coursechat/internal/config"
	"github.com/eldtechnologies/coursechat/internal/realtime"
	"github.com/eldtechnologies/coursechat/internal/store"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, backend, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", backend).Msg("store connection failed")
	}
	defer db.Close()
	logger.Info().Str("backend", backend).Msg("store ready")

	if cfg.SeedDemo {
		users, err := store.SeedDemo(ctx, db)
		if err != nil {
			logger.Fatal().Err(err).Msg("seeding demo data failed")
		}
		for _, u := range users {
			logger.Info().Str("name", u.Name).Str("type", string(u.Type)).Msg("seeded demo user")
		}
	}

	var redisStore *store.RedisStore
	var fanout realtime.Fanout
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		fanout = redisStore
		logger.Info().Msg("connected to Redis")
	}

	hub := realtime.NewHub(logger, fanout)
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("realtime fanout stopped")
		}
	}()

	router := api.NewRouter(logger, cfg, db, redisStore, hub)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset: websocket connections are long lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting coursechat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown does not wait for hijacked connections.
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	hub.Wait()

	logger.Info().Msg("server stopped")
}

// openStore picks the backend from the configuration: postgres, then
// sqlite, then memory.
func openStore(ctx context.Context, cfg *config.Config) (store.DataStore, string, error) {
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"), strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		return s, "postgres", err
	case cfg.SQLitePath != "":
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		return s, "sqlite", err
	default:
		return store.NewMemoryStore(), "memory", nil
	}
}
