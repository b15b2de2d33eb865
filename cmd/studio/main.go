package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/rahl/studio/pkg/buildclient"
	"github.com/rahl/studio/pkg/config"
	"github.com/rahl/studio/pkg/logging"
	"github.com/rahl/studio/pkg/studio"
	"github.com/rahl/studio/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("studio failed")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadStudio()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	shutdownTracer := telemetry.InitTracer(ctx, "rahl-studio", cfg.Tracing, logger)
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown failed")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := studio.NewServer(buildclient.NewClient(cfg.BuilderURL), studio.Config{
		RequestTimeout: cfg.RequestTimeout,
		SubmitRPS:      cfg.SubmitRPS,
		SubmitBurst:    cfg.SubmitBurst,
		SessionIdleTTL: cfg.SessionIdleTTL,
		TrustProxy:     cfg.TrustProxy,
	}, logger, reg)
	if err != nil {
		return fmt.Errorf("build studio server: %w", err)
	}
	go srv.Registry().Run(ctx, time.Minute)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("studio shutdown error")
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Str("builder", cfg.BuilderURL).Msg("studio listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("studio listen: %w", err)
	}

	<-ctx.Done()
	logger.Info().Msg("studio stopped")
	return nil
}
