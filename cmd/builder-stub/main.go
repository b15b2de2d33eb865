package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rahl/studio/pkg/builderstub"
	"github.com/rahl/studio/pkg/config"
	"github.com/rahl/studio/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("builder stub failed")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadStub()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init builder store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("builder store close error")
		}
	}()

	catalog, err := builderstub.DefaultCatalog()
	if err != nil {
		return fmt.Errorf("load template catalog: %w", err)
	}

	stub := builderstub.NewServer(store, catalog,
		builderstub.WithLogger(logger),
		builderstub.WithPublicURL(cfg.PublicURL),
		builderstub.WithBuildDelay(cfg.BuildDelay),
	)
	defer stub.Close()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           stub.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("builder shutdown error")
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Msg("builder stub listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("builder stub listen: %w", err)
	}
	logger.Info().Msg("builder stub stopped")
	return nil
}

// openStore prefers Postgres, then Redis, then memory.
func openStore(ctx context.Context, cfg config.StubConfig) (builderstub.Store, error) {
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		return builderstub.NewPostgresStore(ctx, dsn)
	}
	if redisURL := strings.TrimSpace(cfg.RedisURL); redisURL != "" {
		return builderstub.NewRedisStore(ctx, redisURL, cfg.ProjectTTL)
	}
	return builderstub.NewMemStore(), nil
}
